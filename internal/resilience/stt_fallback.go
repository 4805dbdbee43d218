package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
//
// Failover covers the whole session, not only its setup: the session keeps
// a copy of the audio it was sent, and when the active backend fails to
// deliver on Close the recording is replayed into the next healthy one.
// Attempts are a few seconds long, so the copy is small.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// StartStream opens a session against the first healthy provider. The
// provider's breaker records the session outcome when it is closed.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var lastErr error
	for i := range f.group.entries {
		entry := &f.group.entries[i]
		probe, err := entry.breaker.allow()
		if err != nil {
			lastErr = err
			f.group.log.Debug("skipping provider (circuit open)", "provider", entry.name)
			continue
		}
		h, err := entry.value.StartStream(ctx, cfg)
		if err != nil {
			entry.breaker.record(err, probe)
			lastErr = err
			f.group.log.Warn("provider failed, trying next", "provider", entry.name, "err", err)
			continue
		}
		return &replaySession{
			ctx:    ctx,
			cfg:    cfg,
			group:  f.group,
			idx:    i,
			probe:  probe,
			cur:    h,
			finals: make(chan stt.Transcript, 64),
		}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// replaySession forwards audio to the active backend and keeps a copy for
// replay.
type replaySession struct {
	ctx   context.Context
	cfg   stt.StreamConfig
	group *FallbackGroup[stt.Provider]

	mu      sync.Mutex
	idx     int
	probe   bool
	cur     stt.SessionHandle
	chunks  [][]byte
	sendErr error
	closed  bool
	err     error

	finals chan stt.Transcript
}

func (s *replaySession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
	if s.sendErr == nil {
		s.sendErr = s.cur.SendAudio(chunk)
	}
	return nil
}

func (s *replaySession) Finals() <-chan stt.Transcript { return s.finals }

// Close flushes the active backend. If it fails, the recording is replayed
// against the remaining backends in order.
func (s *replaySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true
	defer close(s.finals)

	results, err := drain(s.cur, s.sendErr)
	s.group.entries[s.idx].breaker.record(err, s.probe)
	if err == nil {
		s.emit(results)
		return nil
	}
	if s.ctx.Err() != nil {
		s.err = fmt.Errorf("stt fallback: %w", err)
		return s.err
	}
	s.group.log.Warn("stt session failed, replaying on next provider",
		"provider", s.group.entries[s.idx].name, "err", err)

	results, _, err = executeFrom(s.group, s.idx+1, func(p stt.Provider) ([]stt.Transcript, error) {
		h, err := p.StartStream(s.ctx, s.cfg)
		if err != nil {
			return nil, err
		}
		var sendErr error
		for _, c := range s.chunks {
			if sendErr = h.SendAudio(c); sendErr != nil {
				break
			}
		}
		return drain(h, sendErr)
	})
	if err != nil {
		s.err = err
		return err
	}
	s.emit(results)
	return nil
}

func (s *replaySession) emit(results []stt.Transcript) {
	for _, r := range results {
		select {
		case s.finals <- r:
		default:
		}
	}
}

// drain closes h and collects its finals. A send failure is reported after
// the session is closed.
func drain(h stt.SessionHandle, sendErr error) ([]stt.Transcript, error) {
	closeErr := h.Close()
	var out []stt.Transcript
	for t := range h.Finals() {
		out = append(out, t)
	}
	if err := errors.Join(sendErr, closeErr); err != nil {
		return nil, err
	}
	return out, nil
}
