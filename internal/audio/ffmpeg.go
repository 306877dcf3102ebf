package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg wraps a discovered ffmpeg binary. Everything that needs a codec,
// a resampler or a loudness meter goes through here.
type FFmpeg struct {
	Path string
}

// Candidate install locations checked after PATH, covering Homebrew on both
// Mac architectures and MacPorts.
var ffmpegCandidates = []string{
	"/opt/homebrew/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/opt/local/bin/ffmpeg",
	"/usr/bin/ffmpeg",
}

// FindFFmpeg locates the ffmpeg binary. Resolution order: the explicit path
// argument, the MACTTS_FFMPEG_BIN environment variable, PATH, then common
// package-manager locations.
func FindFFmpeg(explicit string) (*FFmpeg, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("ffmpeg not found at %s: %w", explicit, err)
		}
		return &FFmpeg{Path: explicit}, nil
	}
	if env := os.Getenv("MACTTS_FFMPEG_BIN"); env != "" {
		if _, err := os.Stat(env); err != nil {
			return nil, fmt.Errorf("MACTTS_FFMPEG_BIN points at %s: %w", env, err)
		}
		return &FFmpeg{Path: env}, nil
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return &FFmpeg{Path: p}, nil
	}
	for _, p := range ffmpegCandidates {
		if _, err := os.Stat(p); err == nil {
			return &FFmpeg{Path: p}, nil
		}
	}
	return nil, fmt.Errorf("ffmpeg not found: install it or set MACTTS_FFMPEG_BIN")
}

// Version probes the binary and returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.Path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// TranscodeToWAV converts any input ffmpeg can read (MP3, AIFF, OGG, WAV at
// the wrong rate) into a PCM16LE WAV payload at the requested rate and
// channel count.
func (f *FFmpeg) TranscodeToWAV(ctx context.Context, input []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = 1
	}

	cmd := exec.CommandContext(ctx, f.Path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg transcode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// TranscodeFileToWAV converts a file on disk into a PCM16LE WAV payload.
func (f *FFmpeg) TranscodeFileToWAV(ctx context.Context, path string, sampleRate, channels int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return f.TranscodeToWAV(ctx, data, sampleRate, channels)
}

// EncodeToFile writes a WAV payload to outPath, transcoding when the
// extension asks for another container. mp3Bitrate (e.g. "192k") applies to
// MP3 output only; empty selects ffmpeg's default.
func (f *FFmpeg) EncodeToFile(ctx context.Context, wav []byte, outPath, mp3Bitrate string) error {
	if strings.EqualFold(ext(outPath), "wav") {
		return os.WriteFile(outPath, wav, 0o644)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", "pipe:0",
	}
	if strings.EqualFold(ext(outPath), "mp3") && mp3Bitrate != "" {
		args = append(args, "-b:a", mp3Bitrate)
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdin = bytes.NewReader(wav)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg encode %s: %w: %s", outPath, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// loudnormReport is the JSON block the loudnorm filter prints on stderr.
type loudnormReport struct {
	InputI  string `json:"input_i"`
	InputTP string `json:"input_tp"`
}

// MeasureLoudness runs a loudnorm analysis pass and returns the integrated
// loudness of the payload in LUFS.
func (f *FFmpeg) MeasureLoudness(ctx context.Context, wav []byte) (float64, error) {
	cmd := exec.CommandContext(ctx, f.Path,
		"-hide_banner",
		"-i", "pipe:0",
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11:print_format=json",
		"-f", "null", "-",
	)
	cmd.Stdin = bytes.NewReader(wav)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffmpeg loudnorm: %w: %s", err, lastLine(stderr.String()))
	}

	report, err := parseLoudnormJSON(stderr.String())
	if err != nil {
		return 0, err
	}
	lufs, err := strconv.ParseFloat(report.InputI, 64)
	if err != nil {
		return 0, fmt.Errorf("loudnorm input_i %q: %w", report.InputI, err)
	}
	return lufs, nil
}

// parseLoudnormJSON pulls the JSON report out of loudnorm's stderr chatter.
// The report is the last `{...}` block in the output.
func parseLoudnormJSON(stderr string) (*loudnormReport, error) {
	start := strings.LastIndex(stderr, "{")
	end := strings.LastIndex(stderr, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no loudnorm report in ffmpeg output")
	}
	var report loudnormReport
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &report); err != nil {
		return nil, fmt.Errorf("parse loudnorm report: %w", err)
	}
	return &report, nil
}

func ext(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return ""
	}
	return path[i+1:]
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
