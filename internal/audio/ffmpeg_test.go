package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindFFmpegExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := FindFFmpeg(path)
	if err != nil {
		t.Fatalf("FindFFmpeg() error: %v", err)
	}
	if f.Path != path {
		t.Fatalf("Path = %q, want %q", f.Path, path)
	}
}

func TestFindFFmpegMissingExplicitPath(t *testing.T) {
	if _, err := FindFFmpeg(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("FindFFmpeg() accepted a missing path")
	}
}

func TestFindFFmpegEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MACTTS_FFMPEG_BIN", path)
	f, err := FindFFmpeg("")
	if err != nil {
		t.Fatalf("FindFFmpeg() error: %v", err)
	}
	if f.Path != path {
		t.Fatalf("Path = %q, want %q", f.Path, path)
	}
}

func TestParseLoudnormJSON(t *testing.T) {
	stderr := `[Parsed_loudnorm_0 @ 0x7f8]
{
	"input_i" : "-23.47",
	"input_tp" : "-5.12",
	"input_lra" : "4.50",
	"input_thresh" : "-33.92",
	"output_i" : "-16.02",
	"normalization_type" : "dynamic",
	"target_offset" : "0.34"
}
`
	report, err := parseLoudnormJSON(stderr)
	if err != nil {
		t.Fatalf("parseLoudnormJSON() error: %v", err)
	}
	if report.InputI != "-23.47" {
		t.Fatalf("InputI = %q, want %q", report.InputI, "-23.47")
	}
}

func TestParseLoudnormJSONMissingReport(t *testing.T) {
	if _, err := parseLoudnormJSON("size=N/A time=00:00:01.00 bitrate=N/A"); err == nil {
		t.Fatal("parseLoudnormJSON() accepted output without a report")
	}
}
