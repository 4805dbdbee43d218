// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram, OpenAI, or a
// local whisper.cpp server) and exposes a uniform session interface. A
// session accepts raw PCM frames and emits authoritative Transcript values.
// Batch services that can only transcribe a complete clip buffer the audio
// and emit their result when the session is closed.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is what every bundled
	// provider is tuned for.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// Keywords biases recognition towards the text the player is expected to
	// say. Providers without keyword boosting may fold them into a prompt or
	// ignore them.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT session.
//
// Callers must call Close when the session is no longer needed. Close flushes
// pending audio; once it returns, every final transcript the session will
// produce is buffered in the Finals channel and the channel is closed.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM audio. The
	// chunk must match the format agreed in StreamConfig. Calling SendAudio
	// after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Finals returns a read-only channel of authoritative transcripts. The
	// channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio and releases all
	// associated resources. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// The session's lifetime is bounded by ctx: cancelling it aborts any
	// in-flight recognition and closes Finals.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
