// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or the
// OpenAI speech endpoint) and renders a short utterance to raw PCM. Hints
// are a single word or phrase, so synthesis is request/response rather than
// streamed.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// utterance as 16-bit little-endian PCM. voice.SpeedFactor and
	// voice.Language are applied when the backend supports them.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Speech, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
