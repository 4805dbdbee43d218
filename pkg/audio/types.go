package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Encoding identifies how the bytes of a [Sample] are laid out.
type Encoding string

const (
	// EncodingPCM16 is raw 16-bit signed little-endian interleaved PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingWAV is a RIFF/WAVE container holding 16-bit PCM.
	EncodingWAV Encoding = "wav"

	// EncodingOpus is a sequence of Opus packets, each prefixed with its
	// length as a big-endian uint16.
	EncodingOpus Encoding = "opus"

	// EncodingWebM is a browser MediaRecorder container. It is forwarded
	// untouched to remote transcription services and cannot be decoded
	// locally.
	EncodingWebM Encoding = "webm"
)

// ErrNotDecodable is returned by [Decode] for container formats that can
// only be forwarded.
var ErrNotDecodable = errors.New("audio: encoding can only be forwarded")

// ErrUnsupportedFormat is returned for sample rates or channel counts
// outside the accepted range, and for recordings longer than
// [MaxDuration].
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Limits on accepted recordings.
const (
	MinSampleRate = 8000
	MaxSampleRate = 48000
	MaxChannels   = 2

	// MaxDuration caps decoded audio. An attempt is a word or a short
	// sentence.
	MaxDuration = 60 * time.Second
)

// MIMEType returns the content type used when uploading e.
func (e Encoding) MIMEType() string {
	switch e {
	case EncodingPCM16:
		return "audio/L16"
	case EncodingOpus:
		return "audio/opus"
	case EncodingWebM:
		return "audio/webm"
	default:
		return "audio/wav"
	}
}

// Ext returns the file extension used when uploading e.
func (e Encoding) Ext() string {
	switch e {
	case EncodingPCM16:
		return ".pcm"
	case EncodingOpus:
		return ".opus"
	case EncodingWebM:
		return ".webm"
	default:
		return ".wav"
	}
}

// ParseEncoding maps a form value or MIME type to an [Encoding]. An empty
// string selects WAV, the format browsers most easily produce.
func ParseEncoding(s string) (Encoding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch s {
	case "", "wav", "audio/wav", "audio/wave", "audio/x-wav":
		return EncodingWAV, nil
	case "pcm16", "pcm", "audio/l16":
		return EncodingPCM16, nil
	case "opus", "audio/opus":
		return EncodingOpus, nil
	case "webm", "audio/webm":
		return EncodingWebM, nil
	default:
		return "", fmt.Errorf("audio: unsupported encoding %q", s)
	}
}

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the format handed to speech-to-text providers.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Validate reports whether f lies within the accepted sample rates and
// channel counts.
func (f Format) Validate() error {
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d Hz outside %d-%d", ErrUnsupportedFormat, f.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	return nil
}

// MaxBytes returns the PCM16 size of [MaxDuration] in f.
func (f Format) MaxBytes() int {
	return f.BytesPerSecond() * int(MaxDuration/time.Second)
}

// BytesPerSecond returns the PCM16 data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n bytes of PCM16 audio in f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Sample is one finished recording of a player's attempt.
type Sample struct {
	// Encoding says how Data is laid out.
	Encoding Encoding

	// Data holds the encoded audio.
	Data []byte

	// Format is required for PCM16 and Opus samples; WAV carries its own.
	Format Format
}

// PCM is decoded audio ready for a speech provider.
type PCM struct {
	Data   []byte
	Format Format
}

// Duration returns the playback length of p.
func (p PCM) Duration() time.Duration {
	return p.Format.Duration(len(p.Data))
}
