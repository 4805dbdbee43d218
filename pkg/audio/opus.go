package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"layeh.com/gopus"
)

// maxOpusFrameMs is the longest frame an Opus packet may carry.
const maxOpusFrameMs = 120

// DecodeOpus decodes a length-prefixed Opus packet stream into PCM16 in f.
// f.SampleRate must be one the codec supports (8, 12, 16, 24 or 48 kHz).
func DecodeOpus(data []byte, f Format) (PCM, error) {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if err := f.Validate(); err != nil {
		return PCM{}, err
	}
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: create opus decoder (%s): %w", f, err)
	}
	frameSize := f.SampleRate * maxOpusFrameMs / 1000

	limit := f.MaxBytes()
	var out []byte
	for off := 0; off < len(data); {
		if off+2 > len(data) {
			return PCM{}, errors.New("audio: truncated opus packet length")
		}
		n := int(binary.BigEndian.Uint16(data[off : off+2]))
		off += 2
		if off+n > len(data) {
			return PCM{}, fmt.Errorf("audio: opus packet of %d bytes exceeds remaining %d", n, len(data)-off)
		}
		pcm, err := dec.Decode(data[off:off+n], frameSize, false)
		if err != nil {
			return PCM{}, fmt.Errorf("audio: opus decode: %w", err)
		}
		out = append(out, int16sToBytes(pcm)...)
		if len(out) > limit {
			return PCM{}, fmt.Errorf("%w: opus stream longer than %s", ErrUnsupportedFormat, MaxDuration)
		}
		off += n
	}
	return PCM{Data: out, Format: f}, nil
}

// EncodeOpus encodes PCM16 into the length-prefixed packet stream read by
// [DecodeOpus], using 20 ms frames. A trailing partial frame is zero-padded.
func EncodeOpus(p PCM) ([]byte, error) {
	channels := max(p.Format.Channels, 1)
	enc, err := gopus.NewEncoder(p.Format.SampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder (%s): %w", p.Format, err)
	}
	frameSize := p.Format.SampleRate * 20 / 1000
	frameBytes := frameSize * channels * 2

	var out []byte
	for off := 0; off < len(p.Data); off += frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, p.Data[off:min(off+frameBytes, len(p.Data))])
		samples := make([]int16, frameSize*channels)
		for i := range samples {
			samples[i] = sampleAt(frame, i)
		}
		pkt, err := enc.Encode(samples, frameSize, frameBytes)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(pkt)))
		out = append(out, pkt...)
	}
	return out, nil
}

// Decode turns a recorded sample into PCM16 in its native format.
func Decode(s Sample) (PCM, error) {
	if len(s.Data) == 0 {
		return PCM{}, errors.New("audio: sample is empty")
	}
	switch s.Encoding {
	case EncodingWAV:
		return DecodeWAV(s.Data)
	case EncodingPCM16:
		if s.Format.SampleRate <= 0 || s.Format.Channels <= 0 {
			return PCM{}, errors.New("audio: pcm16 sample needs a sample rate and channel count")
		}
		if err := s.Format.Validate(); err != nil {
			return PCM{}, err
		}
		data := s.Data
		if len(data)%2 != 0 {
			data = data[:len(data)-1]
		}
		return PCM{Data: data, Format: s.Format}, nil
	case EncodingOpus:
		f := s.Format
		if f.SampleRate == 0 {
			f.SampleRate = 48000
		}
		return DecodeOpus(s.Data, f)
	case EncodingWebM:
		return PCM{}, fmt.Errorf("%w: %s", ErrNotDecodable, s.Encoding)
	default:
		return PCM{}, fmt.Errorf("audio: unsupported encoding %q", s.Encoding)
	}
}

// DecodeTo decodes s and converts the result to target. Recordings longer
// than [MaxDuration] are rejected before conversion.
func DecodeTo(s Sample, target Format) (PCM, error) {
	p, err := Decode(s)
	if err != nil {
		return PCM{}, err
	}
	if err := p.Format.Validate(); err != nil {
		return PCM{}, err
	}
	if p.Duration() > MaxDuration {
		return PCM{}, fmt.Errorf("%w: recording of %s exceeds %s", ErrUnsupportedFormat, p.Duration().Round(time.Second), MaxDuration)
	}
	return Convert(p, target), nil
}
