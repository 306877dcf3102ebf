package app

import (
	"fmt"
	"strings"

	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/config"
	"github.com/jijae92/mactts/internal/tts"
)

type synthSetup struct {
	synth    tts.Synthesizer
	resolved string
	detail   string
	cleanup  func() error
}

// ResolveSynthesizer picks a backend the same way the daemon does; the
// CLI shares it so both shells agree on auto selection.
func ResolveSynthesizer(cfg config.Config, ff *audio.FFmpeg) (tts.Synthesizer, BackendInfo, func() error, error) {
	setup, err := resolveSynthesizer(cfg, ff)
	if err != nil {
		return nil, BackendInfo{}, nil, err
	}
	cleanup := setup.cleanup
	if cleanup == nil {
		cleanup = func() error { return nil }
	}
	return setup.synth, BackendInfo{Name: setup.resolved, Detail: setup.detail}, cleanup, nil
}

// resolveSynthesizer picks the TTS backend per cfg.Backend. Auto prefers
// the Edge neural voices, falls back to macOS say and finally the mock
// tone generator; the clone worker only runs when asked for explicitly.
func resolveSynthesizer(cfg config.Config, ff *audio.FFmpeg) (synthSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if mode == "" {
		mode = "auto"
	}

	tryEdge := func() (synthSetup, bool) {
		if ff == nil {
			return synthSetup{}, false
		}
		s, err := tts.NewEdgeSynthesizer(tts.EdgeConfig{
			WSURL:   cfg.EdgeWSURL,
			Timeout: cfg.EdgeTimeout,
			FFmpeg:  ff,
		})
		if err != nil {
			return synthSetup{}, false
		}
		return synthSetup{synth: s, resolved: "edge", detail: "edge neural voices"}, true
	}

	trySay := func() (synthSetup, bool) {
		if ff == nil || !tts.SayAvailable() {
			return synthSetup{}, false
		}
		s, err := tts.NewSaySynthesizer(tts.SayConfig{
			Binary:     cfg.SayBinary,
			LocaleHint: cfg.SayLocaleHint,
			FFmpeg:     ff,
		})
		if err != nil {
			return synthSetup{}, false
		}
		return synthSetup{synth: s, resolved: "say", detail: "macOS say"}, true
	}

	mock := func(detail string) synthSetup {
		return synthSetup{
			synth:    &tts.MockSynthesizer{SampleRate: cfg.SampleRate},
			resolved: "mock",
			detail:   detail,
		}
	}

	switch mode {
	case "edge":
		if setup, ok := tryEdge(); ok {
			return setup, nil
		}
		return synthSetup{}, fmt.Errorf("MACTTS_BACKEND=edge requires ffmpeg")
	case "say":
		if setup, ok := trySay(); ok {
			return setup, nil
		}
		return synthSetup{}, fmt.Errorf("MACTTS_BACKEND=say requires macOS with the say command and ffmpeg")
	case "clone":
		w, err := tts.StartWorkerSynthesizer(tts.WorkerConfig{
			Python:       cfg.WorkerPython,
			Script:       cfg.WorkerScript,
			RefAudioPath: cfg.WorkerRefAudio,
		})
		if err != nil {
			return synthSetup{}, fmt.Errorf("clone worker init failed: %w", err)
		}
		return synthSetup{synth: w, resolved: "clone", detail: "voice-clone worker", cleanup: w.Close}, nil
	case "mock":
		return mock("mock tone generator"), nil
	case "auto":
		edgeSetup, hasEdge := tryEdge()
		saySetup, hasSay := trySay()

		if hasEdge && hasSay {
			return synthSetup{
				synth:    tts.NewFailoverSynthesizer(edgeSetup.synth, saySetup.synth),
				resolved: "edge",
				detail:   "edge neural voices (automatic say fallback)",
			}, nil
		}
		if hasEdge {
			return edgeSetup, nil
		}
		if hasSay {
			return saySetup, nil
		}
		return mock("mock (no ffmpeg, edge and say unavailable)"), nil
	default:
		return synthSetup{}, fmt.Errorf("invalid MACTTS_BACKEND: %q (expected auto|edge|say|clone|mock)", cfg.Backend)
	}
}
