package tts

import (
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
)

// VoiceProfile describes the voice used to read a word aloud.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (1.0 = default). Hints use a slow rate.
	SpeedFactor float64

	// PitchShift adjusts pitch (1.0 = default). Only some providers honour it.
	PitchShift float64

	// Language is a BCP-47 tag such as "en-US".
	Language string

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Speech is a synthesised utterance.
type Speech struct {
	// PCM is 16-bit little-endian interleaved audio.
	PCM []byte

	// Format describes PCM.
	Format audio.Format
}

// Duration reports how long the utterance plays.
func (s Speech) Duration() time.Duration {
	return s.Format.Duration(len(s.PCM))
}
