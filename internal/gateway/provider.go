package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout = 10 * time.Second
	defaultChunk   = 20 * time.Millisecond
	keywordBoost   = 2
)

// ProviderOption configures a [ProviderGateway].
type ProviderOption func(*ProviderGateway)

// WithTimeout bounds each transcription. Default: 10s.
func WithTimeout(d time.Duration) ProviderOption {
	return func(g *ProviderGateway) {
		g.timeout = d
	}
}

// WithLanguage sets the recognition language. Default: provider default.
func WithLanguage(lang string) ProviderOption {
	return func(g *ProviderGateway) {
		g.language = lang
	}
}

// WithChunkDuration sets how much audio is sent per SendAudio call.
func WithChunkDuration(d time.Duration) ProviderOption {
	return func(g *ProviderGateway) {
		g.chunk = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ProviderOption {
	return func(g *ProviderGateway) {
		g.log = l
	}
}

// ProviderGateway transcribes attempts with an in-process [stt.Provider].
type ProviderGateway struct {
	provider stt.Provider
	timeout  time.Duration
	language string
	chunk    time.Duration
	log      *slog.Logger
}

var _ Gateway = (*ProviderGateway)(nil)

// NewProvider returns a gateway backed by p.
func NewProvider(p stt.Provider, opts ...ProviderOption) *ProviderGateway {
	g := &ProviderGateway{
		provider: p,
		timeout:  defaultTimeout,
		chunk:    defaultChunk,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Transcribe decodes the sample to 16 kHz mono, streams it to the provider
// with the expected text as a keyword and joins the final transcripts.
func (g *ProviderGateway) Transcribe(ctx context.Context, req Request) (Result, error) {
	pcm, err := audio.DecodeTo(req.Audio, audio.SpeechFormat)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrBadAudio, err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := stt.StreamConfig{
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.Channels,
		Language:   g.language,
	}
	if kw := strings.TrimSpace(req.Expected); kw != "" {
		cfg.Keywords = []stt.KeywordBoost{{Keyword: kw, Boost: keywordBoost}}
	}

	h, err := g.provider.StartStream(ctx, cfg)
	if err != nil {
		return Result{}, g.unavailable(ctx, "start stream", err)
	}

	// Streaming providers deliver finals while audio is still flowing, so
	// the channel is drained alongside the sender.
	var finals []stt.Transcript
	eg := new(errgroup.Group)
	eg.Go(func() error {
		var sendErr error
		for _, c := range audio.Chunks(pcm, g.chunk) {
			if sendErr = h.SendAudio(c); sendErr != nil {
				break
			}
		}
		return errors.Join(sendErr, h.Close())
	})
	eg.Go(func() error {
		for t := range h.Finals() {
			finals = append(finals, t)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Result{}, g.unavailable(ctx, "transcribe", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, g.unavailable(ctx, "transcribe", err)
	}

	joined := stt.Join(finals)
	if joined.Text == "" {
		return Result{}, ErrEmptyTranscript
	}
	g.log.Debug("attempt transcribed",
		"expected", req.Expected,
		"transcript", joined.Text,
		"confidence", joined.Confidence,
		"audio", pcm.Duration(),
	)
	return Result{Transcript: joined.Text, Confidence: clamp01(joined.Confidence)}, nil
}

// unavailable wraps err as ErrUnavailable, preserving context cancellation
// by the caller.
func (g *ProviderGateway) unavailable(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: timed out after %s", ErrUnavailable, op, g.timeout)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
