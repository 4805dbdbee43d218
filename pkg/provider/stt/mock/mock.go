// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Each session it hands out records the audio it receives and,
// when closed, delivers Provider.Finals on its Finals channel.
//
// Example:
//
//	p := &mock.Provider{Finals: []stt.Transcript{{Text: "CAT", Confidence: 0.9}}}
//	handle, _ := p.StartStream(ctx, cfg)
//	_ = handle.SendAudio(pcm)
//	_ = handle.Close()
//	for t := range handle.Finals() { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Finals is delivered by every session this provider opens.
	Finals []stt.Transcript

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// SendAudioErr is copied into every new session.
	SendAudioErr error

	// CloseErr is copied into every new session.
	CloseErr error

	// Block, if non-nil, makes Close wait until the channel is closed or the
	// session context is done. Use it to simulate a slow service.
	Block chan struct{}

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions holds every session handed out, in order.
	Sessions []*Session
}

// StartStream records the call and returns a new Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := NewSession(p.Finals...)
	s.ctx = ctx
	s.SendAudioErr = p.SendAudioErr
	s.CloseErr = p.CloseErr
	s.block = p.Block
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// LastConfig returns the StreamConfig of the most recent StartStream call.
func (p *Provider) LastConfig() stt.StreamConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StartStreamCalls) == 0 {
		return stt.StreamConfig{}
	}
	return p.StartStreamCalls[len(p.StartStreamCalls)-1].Cfg
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.Sessions = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	ctx     context.Context
	block   chan struct{}
	results []stt.Transcript
	finals  chan stt.Transcript
	closed  bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Chunks records a copy of every chunk passed to SendAudio.
	Chunks [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a session that delivers results on Close.
func NewSession(results ...stt.Transcript) *Session {
	return &Session{
		results: results,
		finals:  make(chan stt.Transcript, len(results)),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Chunks = append(s.Chunks, cp)
	return nil
}

// Finals returns the channel that receives the configured results on Close.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Close delivers the configured results, closes Finals and returns CloseErr.
func (s *Session) Close() error {
	if s.block != nil {
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case <-s.block:
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		if s.ctx == nil || s.ctx.Err() == nil {
			for _, r := range s.results {
				s.finals <- r
			}
		}
		close(s.finals)
	}
	return s.CloseErr
}

// AudioBytes returns the total number of bytes received. Thread-safe.
func (s *Session) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Chunks {
		n += len(c)
	}
	return n
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
