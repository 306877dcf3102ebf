package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// EncodeWAV wraps a segment's PCM16LE samples in a WAV container.
func EncodeWAV(seg *Segment) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, seg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes a segment as a WAV file.
func WriteWAVFile(path string, seg *Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVTo(f, seg)
}

// WriteWAVTo writes a segment to out as a PCM16LE WAV stream.
func WriteWAVTo(out io.Writer, seg *Segment) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	sampleRate := seg.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	channels := seg.Channels
	if channels <= 0 {
		channels = 1
	}

	dataSize := uint32(len(seg.Samples) * 2)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(channels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, seg.Samples); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAV parses a PCM16LE WAV payload into a segment. Other codecs and
// sample widths are rejected; callers route those through ffmpeg first.
func DecodeWAV(data []byte) (*Segment, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		audioFormat   int
		haveFmt       bool
		pcm           []byte
	)

	// Walk the chunk list; writers pad odd-sized chunks to even offsets.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			audioFormat = int(binary.LittleEndian.Uint16(data[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if audioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format %d, want PCM", audioFormat)
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported sample width %d bits, want 16", bitsPerSample)
	}
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if pcm == nil {
		return nil, fmt.Errorf("missing data chunk")
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return &Segment{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// ReadWAVFile reads and decodes a PCM16LE WAV file.
func ReadWAVFile(path string) (*Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seg, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return seg, nil
}
