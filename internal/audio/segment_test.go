package audio

import (
	"math"
	"testing"
	"time"
)

func TestSilenceDuration(t *testing.T) {
	seg := Silence(500*time.Millisecond, 24000, 1)
	if got := len(seg.Samples); got != 12000 {
		t.Fatalf("len(Samples) = %d, want 12000", got)
	}
	if got := seg.Duration(); got != 500*time.Millisecond {
		t.Fatalf("Duration() = %v, want 500ms", got)
	}

	stereo := Silence(100*time.Millisecond, 24000, 2)
	if got := stereo.Frames(); got != 2400 {
		t.Fatalf("stereo Frames() = %d, want 2400", got)
	}
}

func TestApplyGain(t *testing.T) {
	seg := &Segment{Samples: []int16{1000, -1000}, SampleRate: 24000, Channels: 1}
	ApplyGain(seg, -6)
	// -6 dB is a factor of ~0.501.
	if seg.Samples[0] < 495 || seg.Samples[0] > 507 {
		t.Fatalf("Samples[0] = %d, want ~501", seg.Samples[0])
	}
	if seg.Samples[1] > -495 || seg.Samples[1] < -507 {
		t.Fatalf("Samples[1] = %d, want ~-501", seg.Samples[1])
	}
}

func TestApplyGainClamps(t *testing.T) {
	seg := &Segment{Samples: []int16{30000, -30000}, SampleRate: 24000, Channels: 1}
	ApplyGain(seg, 12)
	if seg.Samples[0] != 32767 {
		t.Fatalf("Samples[0] = %d, want clamped 32767", seg.Samples[0])
	}
	if seg.Samples[1] != -32768 {
		t.Fatalf("Samples[1] = %d, want clamped -32768", seg.Samples[1])
	}
}

func TestApplyPanLeft(t *testing.T) {
	seg := &Segment{Samples: []int16{10000, 10000}, SampleRate: 24000, Channels: 1}
	out := ApplyPan(seg, -0.5)
	if out.Channels != 2 {
		t.Fatalf("Channels = %d, want 2", out.Channels)
	}
	left, right := out.Samples[0], out.Samples[1]
	if left != 10000 {
		t.Fatalf("left = %d, want unity 10000", left)
	}
	if right < 4995 || right > 5005 {
		t.Fatalf("right = %d, want ~5000 at pan -0.5", right)
	}
}

func TestApplyPanZeroPromotesOnly(t *testing.T) {
	seg := &Segment{Samples: []int16{1234}, SampleRate: 24000, Channels: 1}
	out := ApplyPan(seg, 0)
	if out.Channels != 2 || out.Samples[0] != 1234 || out.Samples[1] != 1234 {
		t.Fatalf("out = %+v", out)
	}
}

func TestApplyPanHardRightFloors(t *testing.T) {
	seg := &Segment{Samples: []int16{10000}, SampleRate: 24000, Channels: 1}
	out := ApplyPan(seg, 1)
	// Hard pan floors the far channel at -60 dB instead of zeroing it.
	if out.Samples[0] != 10 {
		t.Fatalf("left = %d, want 10", out.Samples[0])
	}
	if out.Samples[1] != 10000 {
		t.Fatalf("right = %d, want 10000", out.Samples[1])
	}
}

func TestToMonoAverages(t *testing.T) {
	seg := &Segment{Samples: []int16{100, 300, -100, -300}, SampleRate: 24000, Channels: 2}
	out := ToMono(seg)
	if out.Channels != 1 || len(out.Samples) != 2 {
		t.Fatalf("out = %+v", out)
	}
	if out.Samples[0] != 200 || out.Samples[1] != -200 {
		t.Fatalf("Samples = %v, want [200 -200]", out.Samples)
	}
}

func TestConcatWithGap(t *testing.T) {
	a := &Segment{Samples: make([]int16, 2400), SampleRate: 24000, Channels: 1}
	b := &Segment{Samples: make([]int16, 2400), SampleRate: 24000, Channels: 1}
	out := Concat([]*Segment{a, b}, 100*time.Millisecond)
	// 100ms + 100ms + one 100ms gap.
	if got := out.Frames(); got != 7200 {
		t.Fatalf("Frames() = %d, want 7200", got)
	}
}

func TestConcatMixedChannels(t *testing.T) {
	mono := &Segment{Samples: make([]int16, 100), SampleRate: 24000, Channels: 1}
	stereo := &Segment{Samples: make([]int16, 200), SampleRate: 24000, Channels: 2}
	out := Concat([]*Segment{mono, stereo}, 0)
	if out.Channels != 2 {
		t.Fatalf("Channels = %d, want 2", out.Channels)
	}
	if got := out.Frames(); got != 200 {
		t.Fatalf("Frames() = %d, want 200", got)
	}
}

func TestCrossfadeLength(t *testing.T) {
	a := Silence(200*time.Millisecond, 24000, 1)
	b := Silence(200*time.Millisecond, 24000, 1)
	out := Crossfade(a, b, 50*time.Millisecond)
	// 200ms + 200ms - 50ms overlap.
	want := int(0.350 * 24000)
	if got := out.Frames(); got != want {
		t.Fatalf("Frames() = %d, want %d", got, want)
	}
}

func TestCrossfadeClampedToShorterSegment(t *testing.T) {
	a := Silence(1*time.Second, 24000, 1)
	b := Silence(20*time.Millisecond, 24000, 1)
	out := Crossfade(a, b, 500*time.Millisecond)
	// Fade clamps to b's 20ms.
	want := int(1.0 * 24000)
	if got := out.Frames(); got != want {
		t.Fatalf("Frames() = %d, want %d", got, want)
	}
}

func TestCrossfadeZeroDurationConcats(t *testing.T) {
	a := Silence(100*time.Millisecond, 24000, 1)
	b := Silence(100*time.Millisecond, 24000, 1)
	out := Crossfade(a, b, 0)
	if got := out.Frames(); got != 4800 {
		t.Fatalf("Frames() = %d, want 4800", got)
	}
}

func TestNormalizePeak(t *testing.T) {
	seg := &Segment{Samples: []int16{8192, -4096}, SampleRate: 24000, Channels: 1}
	NormalizePeak(seg, -1)
	got := PeakDBFS(seg)
	if math.Abs(got-(-1)) > 0.05 {
		t.Fatalf("PeakDBFS after normalize = %v, want ~-1", got)
	}
}

func TestNormalizePeakLeavesSilence(t *testing.T) {
	seg := Silence(100*time.Millisecond, 24000, 1)
	NormalizePeak(seg, -1)
	for _, v := range seg.Samples {
		if v != 0 {
			t.Fatalf("silence was modified: %d", v)
		}
	}
}
