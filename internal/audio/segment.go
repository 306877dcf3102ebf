// Package audio holds the PCM16 segment type and the linear sample
// operations the dialog mixer is built from. Resampling, codecs and
// loudness metering are delegated to ffmpeg, not reimplemented here.
package audio

import (
	"math"
	"time"
)

// DefaultSampleRate is used when a caller does not specify one.
const DefaultSampleRate = 24000

// Segment is a run of interleaved PCM16LE samples.
type Segment struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (s *Segment) Frames() int {
	if s.Channels <= 0 {
		return len(s.Samples)
	}
	return len(s.Samples) / s.Channels
}

// Duration returns the segment's play time.
func (s *Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.Frames()) / float64(s.SampleRate) * float64(time.Second))
}

// Clone returns a deep copy of the segment.
func (s *Segment) Clone() *Segment {
	out := &Segment{SampleRate: s.SampleRate, Channels: s.Channels}
	out.Samples = make([]int16, len(s.Samples))
	copy(out.Samples, s.Samples)
	return out
}

// Silence builds a zero-valued segment of the given duration.
func Silence(d time.Duration, sampleRate, channels int) *Segment {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	if d < 0 {
		d = 0
	}
	frames := int(float64(sampleRate) * d.Seconds())
	return &Segment{
		Samples:    make([]int16, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// ApplyGain scales the segment in place by gainDB decibels.
func ApplyGain(seg *Segment, gainDB float64) {
	if gainDB == 0 {
		return
	}
	factor := math.Pow(10, gainDB/20)
	for i, v := range seg.Samples {
		seg.Samples[i] = clampSample(float64(v) * factor)
	}
}

// ApplyPan positions a segment in the stereo field with constant-gain
// panning: pan in [-1, 1], negative left. The channel opposite the pan
// direction is attenuated by 20*log10(1-|pan|) dB; mono input is promoted
// to stereo first. pan 0 only promotes.
func ApplyPan(seg *Segment, pan float64) *Segment {
	if pan < -1 {
		pan = -1
	}
	if pan > 1 {
		pan = 1
	}

	st := ToStereo(seg)
	if pan == 0 {
		return st
	}

	// Far channel drops to (1-|pan|) of unity, floored at -60 dB; the near
	// channel stays at unity.
	atten := math.Max(0.001, 1-math.Abs(pan))
	for i := 0; i+1 < len(st.Samples); i += 2 {
		if pan < 0 {
			st.Samples[i+1] = clampSample(float64(st.Samples[i+1]) * atten)
		} else {
			st.Samples[i] = clampSample(float64(st.Samples[i]) * atten)
		}
	}
	return st
}

// ToStereo returns a stereo view of the segment, duplicating mono samples.
// Stereo input is returned unchanged.
func ToStereo(seg *Segment) *Segment {
	if seg.Channels == 2 {
		return seg
	}
	out := &Segment{
		Samples:    make([]int16, len(seg.Samples)*2),
		SampleRate: seg.SampleRate,
		Channels:   2,
	}
	for i, v := range seg.Samples {
		out.Samples[i*2] = v
		out.Samples[i*2+1] = v
	}
	return out
}

// ToMono returns a mono view of the segment, averaging stereo pairs.
// Mono input is returned unchanged.
func ToMono(seg *Segment) *Segment {
	if seg.Channels != 2 {
		return seg
	}
	frames := seg.Frames()
	out := &Segment{
		Samples:    make([]int16, frames),
		SampleRate: seg.SampleRate,
		Channels:   1,
	}
	for i := 0; i < frames; i++ {
		l := int32(seg.Samples[i*2])
		r := int32(seg.Samples[i*2+1])
		out.Samples[i] = int16((l + r) / 2)
	}
	return out
}

// CoerceChannels converts the segment to the requested channel count.
func CoerceChannels(seg *Segment, channels int) *Segment {
	if channels == 2 {
		return ToStereo(seg)
	}
	return ToMono(seg)
}

// Concat joins segments in order, inserting gap of silence between each
// pair. Segments must share a sample rate; channel counts are coerced to
// the widest one present.
func Concat(segments []*Segment, gap time.Duration) *Segment {
	if len(segments) == 0 {
		return &Segment{SampleRate: DefaultSampleRate, Channels: 1}
	}

	channels := 1
	for _, s := range segments {
		if s.Channels == 2 {
			channels = 2
			break
		}
	}
	rate := segments[0].SampleRate

	total := 0
	for _, s := range segments {
		total += CoerceChannels(s, channels).Frames() * channels
	}
	if gap > 0 {
		total += Silence(gap, rate, channels).Frames() * channels * (len(segments) - 1)
	}

	out := &Segment{
		Samples:    make([]int16, 0, total),
		SampleRate: rate,
		Channels:   channels,
	}
	for i, s := range segments {
		if i > 0 && gap > 0 {
			out.Samples = append(out.Samples, Silence(gap, rate, channels).Samples...)
		}
		out.Samples = append(out.Samples, CoerceChannels(s, channels).Samples...)
	}
	return out
}

// Crossfade appends b to a with a linear crossfade of the given duration.
// The fade is clamped to the shorter segment; a non-positive duration
// degrades to plain concatenation.
func Crossfade(a, b *Segment, d time.Duration) *Segment {
	if d <= 0 {
		return Concat([]*Segment{a, b}, 0)
	}

	channels := 1
	if a.Channels == 2 || b.Channels == 2 {
		channels = 2
	}
	ca := CoerceChannels(a, channels)
	cb := CoerceChannels(b, channels)
	rate := ca.SampleRate

	fade := int(float64(rate) * d.Seconds())
	if fade > ca.Frames() {
		fade = ca.Frames()
	}
	if fade > cb.Frames() {
		fade = cb.Frames()
	}
	if fade <= 0 {
		return Concat([]*Segment{ca, cb}, 0)
	}

	frames := ca.Frames() + cb.Frames() - fade
	out := &Segment{
		Samples:    make([]int16, frames*channels),
		SampleRate: rate,
		Channels:   channels,
	}
	copy(out.Samples, ca.Samples)

	overlapStart := ca.Frames() - fade
	for f := 0; f < fade; f++ {
		t := float64(f+1) / float64(fade+1)
		for c := 0; c < channels; c++ {
			i := (overlapStart + f) * channels
			va := float64(ca.Samples[i+c]) * (1 - t)
			vb := float64(cb.Samples[f*channels+c]) * t
			out.Samples[i+c] = clampSample(va + vb)
		}
	}
	copy(out.Samples[ca.Frames()*channels:], cb.Samples[fade*channels:])
	return out
}

// PeakDBFS returns the segment's peak level in dBFS. A silent segment
// reports -96 dBFS.
func PeakDBFS(seg *Segment) float64 {
	peak := 0.0
	for _, v := range seg.Samples {
		a := math.Abs(float64(v)) / 32768
		if a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return -96
	}
	return 20 * math.Log10(peak)
}

// NormalizePeak scales the segment in place so its peak sits at targetDBFS.
// Silent segments are left alone.
func NormalizePeak(seg *Segment, targetDBFS float64) {
	peak := PeakDBFS(seg)
	if peak <= -96 {
		return
	}
	ApplyGain(seg, targetDBFS-peak)
}

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(math.Round(v))
}
