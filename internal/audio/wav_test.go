package audio

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"
)

func TestWAVRoundTrip(t *testing.T) {
	in := &Segment{
		Samples:    []int16{0, 1000, -1000, 32767, -32768},
		SampleRate: 24000,
		Channels:   1,
	}
	data, err := EncodeWAV(in)
	if err != nil {
		t.Fatalf("EncodeWAV() error: %v", err)
	}
	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error: %v", err)
	}
	if out.SampleRate != 24000 || out.Channels != 1 {
		t.Fatalf("decoded header = %d Hz, %d ch", out.SampleRate, out.Channels)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("len(Samples) = %d, want %d", len(out.Samples), len(in.Samples))
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Fatalf("Samples[%d] = %d, want %d", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestWAVRoundTripStereo(t *testing.T) {
	in := &Segment{
		Samples:    []int16{100, -100, 200, -200},
		SampleRate: 44100,
		Channels:   2,
	}
	data, err := EncodeWAV(in)
	if err != nil {
		t.Fatalf("EncodeWAV() error: %v", err)
	}
	out, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error: %v", err)
	}
	if out.SampleRate != 44100 || out.Channels != 2 || out.Frames() != 2 {
		t.Fatalf("decoded = %d Hz, %d ch, %d frames", out.SampleRate, out.Channels, out.Frames())
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("ID3\x03not audio at all")); err == nil {
		t.Fatal("DecodeWAV() accepted a non-WAV payload")
	}
}

func TestDecodeWAVRejectsNonPCM(t *testing.T) {
	seg := &Segment{Samples: []int16{0, 0}, SampleRate: 8000, Channels: 1}
	data, err := EncodeWAV(seg)
	if err != nil {
		t.Fatal(err)
	}
	// Flip the format tag to IEEE float (3).
	binary.LittleEndian.PutUint16(data[20:22], 3)
	if _, err := DecodeWAV(data); err == nil {
		t.Fatal("DecodeWAV() accepted a non-PCM format tag")
	}
}

func TestReadWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	in := Silence(100*time.Millisecond, 16000, 1)
	in.Samples[0] = 42
	if err := WriteWAVFile(path, in); err != nil {
		t.Fatalf("WriteWAVFile() error: %v", err)
	}
	out, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile() error: %v", err)
	}
	if out.SampleRate != 16000 || out.Samples[0] != 42 {
		t.Fatalf("round trip = %d Hz, Samples[0]=%d", out.SampleRate, out.Samples[0])
	}
}
