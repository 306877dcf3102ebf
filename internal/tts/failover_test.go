package tts

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubSynthesizer struct {
	name  string
	calls int
	fn    func(Request) ([]byte, error)
}

func (s *stubSynthesizer) Name() string { return s.name }

func (s *stubSynthesizer) Synthesize(_ context.Context, req Request) ([]byte, error) {
	s.calls++
	return s.fn(req)
}

func (s *stubSynthesizer) Voices(context.Context) ([]Voice, error) {
	return []Voice{{Name: s.name}}, nil
}

func TestFailoverSwitchesToFallbackAndSticks(t *testing.T) {
	ctx := context.Background()
	primaryErr := errors.New("primary unavailable")

	primary := &stubSynthesizer{name: "edge", fn: func(Request) ([]byte, error) {
		return nil, primaryErr
	}}
	fallback := &stubSynthesizer{name: "say", fn: func(Request) ([]byte, error) {
		return []byte("wav"), nil
	}}

	f := NewFailoverSynthesizer(primary, fallback)

	if _, err := f.Synthesize(ctx, Request{Text: "a"}); err != nil {
		t.Fatalf("Synthesize() unexpected error = %v", err)
	}
	if _, err := f.Synthesize(ctx, Request{Text: "b"}); err != nil {
		t.Fatalf("Synthesize() on fallback unexpected error = %v", err)
	}

	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
}

func TestFailoverRecoversWhenFallbackFails(t *testing.T) {
	ctx := context.Background()

	primaryHealthy := false
	primary := &stubSynthesizer{name: "edge", fn: func(Request) ([]byte, error) {
		if primaryHealthy {
			return []byte("wav"), nil
		}
		return nil, errors.New("primary down")
	}}
	fallbackHealthy := true
	fallback := &stubSynthesizer{name: "say", fn: func(Request) ([]byte, error) {
		if fallbackHealthy {
			return []byte("wav"), nil
		}
		return nil, errors.New("fallback down")
	}}

	f := NewFailoverSynthesizer(primary, fallback)

	// Activate fallback.
	if _, err := f.Synthesize(ctx, Request{Text: "a"}); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	// Fallback dies, primary has recovered; failover should switch back.
	primaryHealthy = true
	fallbackHealthy = false
	if _, err := f.Synthesize(ctx, Request{Text: "b"}); err != nil {
		t.Fatalf("Synthesize() after recovery error = %v", err)
	}
	// Primary stays active.
	if _, err := f.Synthesize(ctx, Request{Text: "c"}); err != nil {
		t.Fatalf("Synthesize() on primary error = %v", err)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
}

func TestFailoverCombinedErrorNamesBothBackends(t *testing.T) {
	primary := &stubSynthesizer{name: "edge", fn: func(Request) ([]byte, error) {
		return nil, errors.New("dial failed")
	}}
	fallback := &stubSynthesizer{name: "say", fn: func(Request) ([]byte, error) {
		return nil, errors.New("not installed")
	}}

	f := NewFailoverSynthesizer(primary, fallback)
	_, err := f.Synthesize(context.Background(), Request{Text: "a"})
	if err == nil {
		t.Fatal("Synthesize() succeeded, want combined error")
	}
	if !strings.Contains(err.Error(), "edge") || !strings.Contains(err.Error(), "say") {
		t.Fatalf("error = %q, want both backend names", err)
	}
}
