package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/reliability"
)

// SayConfig configures the macOS say adapter.
type SayConfig struct {
	// Binary overrides the say path; empty looks it up on PATH.
	Binary string
	// LocaleHint prefers voices of this locale when resolving by substring.
	LocaleHint string
	// Timeout bounds one synthesis call. Zero means 30s.
	Timeout time.Duration
	// FFmpeg converts say's AIFF output to WAV.
	FFmpeg *audio.FFmpeg
}

// SaySynthesizer shells out to the macOS say command and converts its
// AIFF output to WAV.
type SaySynthesizer struct {
	cfg SayConfig
}

func NewSaySynthesizer(cfg SayConfig) (*SaySynthesizer, error) {
	if cfg.FFmpeg == nil {
		return nil, fmt.Errorf("say synthesizer requires ffmpeg for AIFF decoding")
	}
	if strings.TrimSpace(cfg.Binary) == "" {
		path, err := exec.LookPath("say")
		if err != nil {
			return nil, fmt.Errorf("say command not found: %w", err)
		}
		cfg.Binary = path
	}
	if strings.TrimSpace(cfg.LocaleHint) == "" {
		cfg.LocaleHint = "ko_KR"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SaySynthesizer{cfg: cfg}, nil
}

// SayAvailable reports whether the say command can be used on this host.
func SayAvailable() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := exec.LookPath("say")
	return err == nil
}

func (s *SaySynthesizer) Name() string { return "say" }

func (s *SaySynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, reliability.Permanent(fmt.Errorf("empty text"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	voice := strings.TrimSpace(req.Voice)
	if voice != "" {
		resolved, err := s.resolveVoice(ctx, voice)
		if err != nil {
			return nil, err
		}
		voice = resolved
	}

	tmpDir, err := os.MkdirTemp("", "mactts-say-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)
	aiffPath := filepath.Join(tmpDir, "out.aiff")

	args := []string{}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	if req.RateWPM > 0 {
		args = append(args, "-r", strconv.Itoa(req.RateWPM))
	}
	// "--" keeps leading-dash text from being parsed as flags.
	args = append(args, "-o", aiffPath, "--", text)

	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("say failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	wav, err := s.cfg.FFmpeg.TranscodeFileToWAV(ctx, aiffPath, sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("decode say aiff: %w", err)
	}
	return wav, nil
}

// resolveVoice matches the requested name against installed voices: exact
// match first, then case-insensitive, then substring biased toward the
// locale hint.
func (s *SaySynthesizer) resolveVoice(ctx context.Context, name string) (string, error) {
	voices, err := s.Voices(ctx)
	if err != nil {
		return "", err
	}

	for _, v := range voices {
		if v.Name == name {
			return v.Name, nil
		}
	}
	lower := strings.ToLower(name)
	for _, v := range voices {
		if strings.ToLower(v.Name) == lower {
			return v.Name, nil
		}
	}

	var substringMatches []Voice
	for _, v := range voices {
		if strings.Contains(strings.ToLower(v.Name), lower) {
			substringMatches = append(substringMatches, v)
		}
	}
	for _, v := range substringMatches {
		if v.Locale == s.cfg.LocaleHint {
			return v.Name, nil
		}
	}
	if len(substringMatches) > 0 {
		return substringMatches[0].Name, nil
	}
	return "", reliability.Permanent(fmt.Errorf("voice %q not installed", name))
}

// sayVoiceRe matches `say -v ?` lines: name, locale, "#", sample text.
// Voice names may contain spaces and parentheses (e.g. "Yuna (Enhanced)").
var sayVoiceRe = regexp.MustCompile(`^(.+?)\s{2,}([a-zA-Z]{2}[_-][A-Za-z0-9]+)\s*#\s*(.*)$`)

func (s *SaySynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	out, err := exec.CommandContext(ctx, s.cfg.Binary, "-v", "?").Output()
	if err != nil {
		return nil, fmt.Errorf("say -v ?: %w", err)
	}
	return parseSayVoices(string(out)), nil
}

func parseSayVoices(out string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := sayVoiceRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		voices = append(voices, Voice{
			Name:        strings.TrimSpace(m[1]),
			Locale:      m[2],
			Description: strings.TrimSpace(m[3]),
		})
	}
	return voices
}
