// Package hint reads the current word aloud, slowly, when a player is stuck.
package hint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultSpeed is the speaking rate of a hint relative to normal speech.
	DefaultSpeed = 0.55

	// DefaultPitch is the pitch of a hint relative to the voice default.
	DefaultPitch = 0.9

	// DefaultLanguage is the hint language.
	DefaultLanguage = "en-US"

	defaultTimeout = 8 * time.Second
)

// Option configures a [Speaker].
type Option func(*Speaker)

// WithVoice sets the provider voice ID. Default: provider default.
func WithVoice(id string) Option {
	return func(s *Speaker) {
		s.voice.ID = id
	}
}

// WithSpeed sets the speaking rate. Non-positive values are ignored.
func WithSpeed(f float64) Option {
	return func(s *Speaker) {
		if f > 0 {
			s.voice.SpeedFactor = f
		}
	}
}

// WithLanguage sets the hint language.
func WithLanguage(lang string) Option {
	return func(s *Speaker) {
		if lang != "" {
			s.voice.Language = lang
		}
	}
}

// WithTimeout bounds each synthesis. Default: 8s.
func WithTimeout(d time.Duration) Option {
	return func(s *Speaker) {
		s.timeout = d
	}
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Speaker) {
		s.log = l
	}
}

// Speaker synthesises hints through a [tts.Provider]. It is safe for
// concurrent use.
type Speaker struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	timeout  time.Duration
	metrics  *observe.Metrics
	log      *slog.Logger
}

// New returns a Speaker backed by p.
func New(p tts.Provider, opts ...Option) (*Speaker, error) {
	if p == nil {
		return nil, errors.New("hint: tts provider must not be nil")
	}
	s := &Speaker{
		provider: p,
		voice: tts.VoiceProfile{
			SpeedFactor: DefaultSpeed,
			PitchShift:  DefaultPitch,
			Language:    DefaultLanguage,
		},
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// Voice returns the voice profile used for hints.
func (s *Speaker) Voice() tts.VoiceProfile {
	return s.voice
}

// Speak renders text as a slow hint. Words are lower-cased so that providers
// do not spell out upper-case curriculum entries letter by letter.
func (s *Speaker) Speak(ctx context.Context, text string) (tts.Speech, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return tts.Speech{}, fmt.Errorf("hint: %w", tts.ErrEmptyText)
	}

	ctx, span := observe.StartSpan(ctx, "hint.speak",
		trace.WithAttributes(attribute.String("hint.text", text)))

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	sp, err := s.provider.Synthesize(ctx, text, s.voice)
	defer observe.EndSpan(span, err, "")
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", statusOf(err))))
	s.metrics.RecordHint(ctx, err)
	if err != nil {
		observe.LoggerFrom(ctx, s.log).Warn("hint synthesis failed", "word", text, "err", err)
		return tts.Speech{}, fmt.Errorf("hint: synthesize %q: %w", text, err)
	}
	if len(sp.PCM) == 0 {
		return tts.Speech{}, fmt.Errorf("hint: synthesize %q: provider returned no audio", text)
	}
	observe.LoggerFrom(ctx, s.log).Debug("hint synthesized", "word", text, "duration", sp.Duration())
	return sp, nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
