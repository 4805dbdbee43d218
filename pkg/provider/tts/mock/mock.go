// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled speech and to verify the text and
// VoiceProfile passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Speech: tts.Speech{PCM: []byte{0, 0}, Format: audio.SpeechFormat},
//	}
//	sp, _ := p.Synthesize(ctx, "CAT", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Speech is returned by Synthesize.
	Speech tts.Speech

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Block, if non-nil, makes Synthesize wait until it is closed or ctx is
	// cancelled.
	Block chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// Synthesize records the call and returns Speech, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Speech, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return tts.Speech{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return tts.Speech{}, p.SynthesizeErr
	}
	return p.Speech, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// LastCall returns the most recent Synthesize call. Thread-safe.
func (p *Provider) LastCall() (SynthesizeCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.SynthesizeCalls) == 0 {
		return SynthesizeCall{}, false
	}
	return p.SynthesizeCalls[len(p.SynthesizeCalls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
