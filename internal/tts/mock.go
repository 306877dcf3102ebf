package tts

import (
	"context"
	"hash/fnv"
	"math"
	"unicode/utf8"

	"github.com/jijae92/mactts/internal/audio"
)

// MockSynthesizer produces a deterministic sine tone instead of speech.
// Useful in tests and as a last-resort backend when neither Edge nor say
// is available: the output has a speech-like duration so timing logic can
// still be exercised.
type MockSynthesizer struct {
	// SampleRate for generated audio; 0 uses the package default.
	SampleRate int
	// Err, when set, is returned by every call. Tests use this to drive
	// retry and failover paths.
	Err error
}

func (m *MockSynthesizer) Name() string { return "mock" }

func (m *MockSynthesizer) Synthesize(_ context.Context, req Request) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = m.SampleRate
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	// Roughly 14 chars/second of speech, clamped to a plausible range.
	seconds := float64(utf8.RuneCountInString(req.Text)) / 14.0
	if seconds < 0.35 {
		seconds = 0.35
	}
	if seconds > 4.0 {
		seconds = 4.0
	}

	// Pitch derived from text+voice so distinct utterances are audibly
	// distinct in manual listening.
	h := fnv.New32a()
	h.Write([]byte(req.Voice))
	h.Write([]byte(req.Text))
	freq := 180 + float64(h.Sum32()%220)

	frames := int(seconds * float64(sampleRate))
	seg := &audio.Segment{
		Samples:    make([]int16, frames),
		SampleRate: sampleRate,
		Channels:   1,
	}
	for i := 0; i < frames; i++ {
		v := 0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		// Short fade at both ends avoids clicks when segments are joined.
		fade := float64(sampleRate) / 100
		if f := float64(i); f < fade {
			v *= f / fade
		}
		if f := float64(frames - 1 - i); f < fade {
			v *= f / fade
		}
		seg.Samples[i] = int16(v * 32767)
	}
	return audio.EncodeWAV(seg)
}

func (m *MockSynthesizer) Voices(_ context.Context) ([]Voice, error) {
	return []Voice{{Name: "mock", Description: "deterministic sine tone"}}, nil
}
