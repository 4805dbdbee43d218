package stt

import (
	"context"
	"sync"
)

// TranscribeFunc transcribes one complete PCM clip.
type TranscribeFunc func(ctx context.Context, pcm []byte) (Transcript, error)

// BatchSession adapts a clip-at-a-time transcription API to [SessionHandle].
// Audio is buffered in memory; Close submits the whole clip once and
// delivers the result on Finals. Empty clips are never submitted.
type BatchSession struct {
	ctx        context.Context
	transcribe TranscribeFunc

	mu     sync.Mutex
	buf    []byte
	closed bool
	err    error
	finals chan Transcript
}

var _ SessionHandle = (*BatchSession)(nil)

// NewBatchSession returns a session whose Close calls transcribe with ctx.
func NewBatchSession(ctx context.Context, transcribe TranscribeFunc) *BatchSession {
	return &BatchSession{
		ctx:        ctx,
		transcribe: transcribe,
		finals:     make(chan Transcript, 1),
	}
}

// SendAudio appends chunk to the clip.
func (s *BatchSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.buf = append(s.buf, chunk...)
	return nil
}

// Finals returns the channel that receives the clip's transcript.
func (s *BatchSession) Finals() <-chan Transcript { return s.finals }

// Close transcribes the buffered clip and closes Finals. The transcription
// error, if any, is returned by this and every later Close call.
func (s *BatchSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true
	defer close(s.finals)

	if len(s.buf) == 0 {
		return nil
	}
	pcm := s.buf
	s.buf = nil

	t, err := s.transcribe(s.ctx, pcm)
	if err != nil {
		s.err = err
		return err
	}
	if t.Text != "" {
		s.finals <- t
	}
	return nil
}
