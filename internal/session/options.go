package session

import (
	"log/slog"
	"time"

	"github.com/MrWong99/vocalis/internal/curriculum"
	"github.com/MrWong99/vocalis/internal/gateway"
	"github.com/MrWong99/vocalis/internal/ledger"
	"github.com/MrWong99/vocalis/internal/observe"
)

const (
	// DefaultTimeBudget is the time-attack budget in seconds.
	DefaultTimeBudget = 60

	// DefaultTimeBonus is the number of seconds a time-attack success adds.
	DefaultTimeBonus = 2

	defaultTickInterval = time.Second
)

// DefaultEncouragements are shown after a failed progression attempt.
var DefaultEncouragements = []string{
	"You're doing great! Let's try once more.",
	"Almost there, you've got this!",
	"Keep going, I believe in you!",
}

// Config holds the collaborators of an [Engine].
type Config struct {
	// Mode selects the game variant. Required.
	Mode Mode

	// Curriculum supplies the words. Default: curriculum.Default().
	Curriculum *curriculum.Curriculum

	// Gateway transcribes attempts. Required.
	Gateway gateway.Gateway

	// Ledger stores mastery records. Default: an in-memory ledger.
	Ledger ledger.Ledger

	// Hint plays the current word slowly. Optional; without it RequestHint
	// returns ErrHintUnavailable.
	Hint HintSpeaker

	// Credential is the player's opaque token, forwarded to the gateway.
	Credential string
}

// Option configures an [Engine].
type Option func(*Engine)

// WithRand sets the random source for time-attack draws.
func WithRand(r Rand) Option {
	return func(e *Engine) {
		e.rand = r
	}
}

// WithClock sets the clock used for delays and the countdown.
// Default: [SystemClock].
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithDelays sets the transition pacing. Default: [DefaultDelays].
func WithDelays(d Delays) Option {
	return func(e *Engine) {
		e.delays = d
	}
}

// WithTimeBudget sets the time-attack budget in seconds.
func WithTimeBudget(seconds int) Option {
	return func(e *Engine) {
		e.budget = seconds
	}
}

// WithTimeBonus sets the seconds granted per time-attack success.
func WithTimeBonus(seconds int) Option {
	return func(e *Engine) {
		e.bonus = seconds
	}
}

// WithTickInterval sets the countdown period. Zero disables the automatic
// countdown; the caller then drives it with [Engine.TimerTick].
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.tickInterval = d
	}
}

// WithStartLevel starts a progression session at level (1-based).
func WithStartLevel(level int) Option {
	return func(e *Engine) {
		e.startLevel = level
	}
}

// WithEncouragements replaces the messages shown after a failed attempt.
func WithEncouragements(msgs []string) Option {
	return func(e *Engine) {
		e.encouragements = msgs
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}
