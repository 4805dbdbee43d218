// Package gateway turns a recorded attempt into a transcript.
//
// A [Gateway] receives the player's audio together with the text they were
// asked to say and returns what the speech service heard plus its
// confidence. Two implementations exist: [ProviderGateway] drives any
// [stt.Provider] in-process, and [Remote] calls an external check-speech
// endpoint. Failures are classified with the sentinel errors below so that
// the session engine can recover from them uniformly.
package gateway

import (
	"context"
	"errors"

	"github.com/MrWong99/vocalis/pkg/audio"
)

var (
	// ErrUnavailable reports a transport or provider failure, including
	// timeouts.
	ErrUnavailable = errors.New("gateway: transcription service unavailable")

	// ErrEmptyTranscript reports that the service heard nothing usable.
	ErrEmptyTranscript = errors.New("gateway: empty transcript")

	// ErrUnauthorized reports that the credential was rejected.
	ErrUnauthorized = errors.New("gateway: credential rejected")

	// ErrBadAudio reports a sample that could not be decoded. It is a caller
	// error rather than a service failure.
	ErrBadAudio = errors.New("gateway: invalid audio sample")
)

// Request is one attempt to transcribe.
type Request struct {
	// Audio is the finished recording.
	Audio audio.Sample

	// Expected is the text the player was asked to say. It is sent to the
	// service as a recognition hint.
	Expected string

	// Credential is the opaque bearer token of the player, forwarded to
	// remote services that require it.
	Credential string
}

// Result is what the service heard.
type Result struct {
	Transcript string
	// Confidence is in [0,1].
	Confidence float64
}

// Gateway transcribes attempts. Implementations must be safe for concurrent
// use.
type Gateway interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// Func adapts an ordinary function to [Gateway].
type Func func(ctx context.Context, req Request) (Result, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Kind names the error class of err for metrics and client payloads.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrBadAudio):
		return "bad_audio"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unavailable"
	}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
