package tts

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverSynthesizer builds a synthesizer that prefers primary and
// switches to fallback when a primary call fails. Once fallback succeeds,
// it stays active until fallback fails; then primary is retried.
func NewFailoverSynthesizer(primary, fallback Synthesizer) Synthesizer {
	return &failoverSynthesizer{primary: primary, fallback: fallback}
}

type failoverSynthesizer struct {
	primary        Synthesizer
	fallback       Synthesizer
	fallbackActive atomic.Bool
}

func (f *failoverSynthesizer) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *failoverSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if f.fallbackActive.Load() {
		wav, fbErr := f.fallback.Synthesize(ctx, req)
		if fbErr == nil {
			return wav, nil
		}
		// Fallback failed after being active; try primary again.
		wav, prErr := f.primary.Synthesize(ctx, req)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return wav, nil
		}
		return nil, fmt.Errorf("%s failed: %v; %s failed: %w",
			f.fallback.Name(), fbErr, f.primary.Name(), prErr)
	}

	wav, prErr := f.primary.Synthesize(ctx, req)
	if prErr == nil {
		return wav, nil
	}
	wav, fbErr := f.fallback.Synthesize(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("%s failed: %v; %s failed: %w",
			f.primary.Name(), prErr, f.fallback.Name(), fbErr)
	}
	f.fallbackActive.Store(true)
	return wav, nil
}

func (f *failoverSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	if f.fallbackActive.Load() {
		return f.fallback.Voices(ctx)
	}
	return f.primary.Voices(ctx)
}
