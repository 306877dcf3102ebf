package main

import "testing"

func TestPercentile(t *testing.T) {
	sorted := []float64{100, 200, 300, 400, 500}

	if got := percentile(sorted, 0.50); got != 300 {
		t.Fatalf("p50 = %.2f, want 300", got)
	}
	if got := percentile(sorted, 0); got != 100 {
		t.Fatalf("p0 = %.2f, want 100", got)
	}
	if got := percentile(sorted, 1); got != 500 {
		t.Fatalf("p100 = %.2f, want 500", got)
	}
	if got := percentile(sorted, 0.95); got <= 400 || got > 500 {
		t.Fatalf("p95 = %.2f, want (400,500]", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty percentile = %.2f, want 0", got)
	}
}

func TestParseFlagsDefaultScripts(t *testing.T) {
	cfg := options{scripts: append([]string(nil), defaultScripts...)}
	if len(cfg.scripts) != 3 {
		t.Fatalf("len(scripts) = %d, want 3", len(cfg.scripts))
	}
	for i, s := range cfg.scripts {
		if s == "" {
			t.Fatalf("script %d is empty", i)
		}
	}
}

func TestWSURLForJob(t *testing.T) {
	got, err := wsURLForJob("http://127.0.0.1:8080", "abc-123")
	if err != nil {
		t.Fatalf("wsURLForJob() error = %v", err)
	}
	want := "ws://127.0.0.1:8080/v1/jobs/abc-123/ws"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}

	if _, err := wsURLForJob("ftp://host", "id"); err == nil {
		t.Fatal("wsURLForJob() accepted an unsupported scheme")
	}
}
