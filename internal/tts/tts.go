// Package tts defines the synthesizer contract and the backend adapters
// that fulfill it: the Edge neural websocket service, the macOS say
// command, a voice-clone Python worker and a deterministic mock.
// Every adapter returns PCM16LE WAV payloads.
package tts

import "context"

// Request is a single utterance to synthesize.
type Request struct {
	Text string
	// Voice is a backend voice name or a friendly alias.
	Voice string
	// RateWPM is the speech rate in words per minute; 0 means backend default.
	RateWPM int
	// Speed is a playback-speed multiplier; 0 or 1 means unchanged.
	Speed float64
	// RefAudioPath points at reference audio for voice-cloning backends.
	RefAudioPath string
	// SampleRate is the desired output rate; 0 means backend default.
	SampleRate int
}

// Voice describes one voice a backend offers.
type Voice struct {
	Name        string
	Locale      string
	Gender      string
	Description string
}

// Synthesizer converts text to a WAV payload.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Voices(ctx context.Context) ([]Voice, error)
}
