// Package session implements the practice-session engine: the state machine
// that walks a player through the curriculum (level progression) or a timed
// round of random words (time attack).
//
// An [Engine] owns one [Snapshot]-shaped state value. Every transition
// produces a new immutable snapshot which is published to subscribers as an
// [Event]. Collaborators are injected: the transcription gateway, the
// mastery ledger, the hint speaker, a random source and a clock.
//
// The engine serialises all mutations behind a single mutex. The gateway call
// inside [Engine.SubmitAttempt] is the only point at which the lock is
// released; responses that arrive after the session moved on (closed, timer
// expired) are discarded by an attempt sequence number.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

var (
	// ErrInvalidAttemptState is returned when an operation is not legal in
	// the current phase. The state is left unchanged.
	ErrInvalidAttemptState = errors.New("session: operation not allowed in current state")

	// ErrNotTerminal is returned by TerminalSummary before the session ended.
	ErrNotTerminal = errors.New("session: session is not finished")

	// ErrHintUnavailable is returned by RequestHint when no hint may be played.
	ErrHintUnavailable = errors.New("session: hint unavailable")

	// ErrWrongMode is returned when an operation does not apply to the
	// session's mode.
	ErrWrongMode = errors.New("session: operation not supported in this mode")

	// ErrInvalidStartLevel is returned by New for a start level the
	// curriculum does not have.
	ErrInvalidStartLevel = errors.New("session: invalid start level")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session: closed")
)

// Mode selects the game variant. It is fixed at creation.
type Mode string

const (
	ModeProgression Mode = "progression"
	ModeTimeAttack  Mode = "time_attack"
)

// ParseMode maps a client value to a Mode. The empty string selects
// progression.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeProgression:
		return ModeProgression, nil
	case ModeTimeAttack:
		return ModeTimeAttack, nil
	default:
		return "", fmt.Errorf("session: unknown mode %q", s)
	}
}

// Phase is the position of the engine in its state machine.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseAwaitingAttempt Phase = "awaiting_attempt"
	PhaseAttemptInFlight Phase = "attempt_in_flight"
	PhaseAdvancing       Phase = "advancing"
	PhaseRetrying        Phase = "retrying"
	PhaseTerminal        Phase = "terminal"
)

// ReadyPlaceholder is shown as the current word of a time-attack session
// until it starts.
const ReadyPlaceholder = "GET READY!"

// AttemptResult is the evaluation of one attempt.
type AttemptResult struct {
	Transcript   string  `json:"transcript"`
	Confidence   float64 `json:"confidence"`
	Accuracy     int     `json:"accuracy"`
	OverallScore int     `json:"overall_score"`
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Mode  Mode  `json:"mode"`
	Phase Phase `json:"phase"`

	// Level is the 1-based current level. It is 0 in time attack.
	Level int `json:"level"`
	// WordIndex is the offset of CurrentWord within Level.
	WordIndex int `json:"word_index"`
	// LevelSize is the number of words in Level.
	LevelSize   int    `json:"level_size"`
	CurrentWord string `json:"current_word"`

	RetryCount int `json:"retry_count"`
	Combo      int `json:"combo"`
	BestCombo  int `json:"best_combo"`
	Stars      int `json:"stars"`

	// Timer is the number of seconds left in time attack.
	Timer int `json:"timer"`
	// Score accumulates time-attack points.
	Score int `json:"score"`

	Terminal      bool `json:"terminal"`
	HintAvailable bool `json:"hint_available"`

	// Seq counts submitted attempts.
	Seq uint64 `json:"seq"`

	LastAttempt *AttemptResult `json:"last_attempt,omitempty"`
	// LastError describes the most recent failed transcription.
	LastError string `json:"last_error,omitempty"`
	// LedgerError describes the most recent failed mastery write.
	LedgerError   string `json:"ledger_error,omitempty"`
	Encouragement string `json:"encouragement,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	if s.LastAttempt != nil {
		a := *s.LastAttempt
		s.LastAttempt = &a
	}
	return s
}

// Outcome reports what happened to one submitted attempt.
type Outcome struct {
	// Ignored is set when the attempt was dropped: the session had already
	// ended or moved on before the transcription arrived.
	Ignored bool `json:"ignored"`

	Seq     uint64        `json:"seq"`
	Result  AttemptResult `json:"result"`
	Success bool          `json:"success"`

	// Err is the recovered transcription failure, if any. The attempt then
	// counts as a zero-accuracy failure.
	Err error `json:"-"`
	// LedgerErr is the non-fatal failure to persist the mastery record.
	LedgerErr error `json:"-"`

	Snapshot Snapshot `json:"snapshot"`
}

// Summary is the end-of-session report.
type Summary struct {
	Mode Mode `json:"mode"`
	// LevelReached is the last level played (progression only).
	LevelReached int `json:"level_reached"`
	// WordsMastered lists the words passed this session, in order.
	WordsMastered []string `json:"words_mastered"`
	Score         int      `json:"score"`
	Combo         int      `json:"combo"`
	BestCombo     int      `json:"best_combo"`
	Attempts      int      `json:"attempts"`
}

// EventKind names a transition.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventSubmitted   EventKind = "submitted"
	EventAttempt     EventKind = "attempt"
	EventReady       EventKind = "ready"
	EventAdvanced    EventKind = "advanced"
	EventLevelUp     EventKind = "level_up"
	EventTick        EventKind = "tick"
	EventTerminal    EventKind = "terminal"
	EventLedgerError EventKind = "ledger_error"
	EventHint        EventKind = "hint"
)

// Event is published to subscribers after every transition.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Err      error
}

// Rand is the random source for time-attack draws.
type Rand interface {
	// IntN returns a value in [0, n).
	IntN(n int) int
}

// HintSpeaker renders a word as slow speech.
type HintSpeaker interface {
	Speak(ctx context.Context, text string) (tts.Speech, error)
}

// Delays are the pauses between a result and the next word. Zero applies
// the transition synchronously.
type Delays struct {
	// Advance follows a successful progression attempt.
	Advance time.Duration
	// LevelAdvance follows the last word of a level.
	LevelAdvance time.Duration
	// Retry follows a failed progression attempt.
	Retry time.Duration
	// TimeAttackSuccess follows a successful time-attack attempt.
	TimeAttackSuccess time.Duration
	// TimeAttackFail follows a failed time-attack attempt.
	TimeAttackFail time.Duration
}

// DefaultDelays returns the pacing of the original game.
func DefaultDelays() Delays {
	return Delays{
		Advance:           2500 * time.Millisecond,
		LevelAdvance:      2500 * time.Millisecond,
		TimeAttackSuccess: 400 * time.Millisecond,
		TimeAttackFail:    800 * time.Millisecond,
	}
}

// NoDelays returns delays that make every transition synchronous.
func NoDelays() Delays {
	return Delays{}
}
