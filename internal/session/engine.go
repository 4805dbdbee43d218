package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/vocalis/internal/curriculum"
	"github.com/MrWong99/vocalis/internal/gateway"
	"github.com/MrWong99/vocalis/internal/ledger"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/scoring"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine runs one practice session. All methods are safe for concurrent use.
type Engine struct {
	cfg            Config
	rand           Rand
	clock          Clock
	delays         Delays
	budget         int
	bonus          int
	tickInterval   time.Duration
	startLevel     int
	encouragements []string
	log            *slog.Logger
	metrics        *observe.Metrics

	mu      sync.Mutex
	state   Snapshot
	started bool
	closed  bool

	// gen invalidates scheduled transitions. It is bumped whenever pending
	// work must not run any more.
	gen     uint64
	pending Timer
	ticker  Timer

	// failed is the last evaluated, unsuccessful attempt on the current word.
	failed *AttemptResult

	mastered []string
	attempts int

	subs    map[int]chan Event
	nextSub int
}

// New validates cfg and returns an engine in [PhaseIdle]. Call
// [Engine.Start] to begin.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if _, err := ParseMode(string(cfg.Mode)); err != nil || cfg.Mode == "" {
		return nil, fmt.Errorf("session: invalid mode %q", cfg.Mode)
	}
	if cfg.Gateway == nil {
		return nil, errors.New("session: gateway is required")
	}
	if cfg.Curriculum == nil {
		cfg.Curriculum = curriculum.Default()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.NewMemLedger()
	}

	e := &Engine{
		cfg:            cfg,
		rand:           globalRand{},
		clock:          SystemClock(),
		delays:         DefaultDelays(),
		budget:         DefaultTimeBudget,
		bonus:          DefaultTimeBonus,
		tickInterval:   defaultTickInterval,
		startLevel:     1,
		encouragements: DefaultEncouragements,
		subs:           make(map[int]chan Event),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.budget <= 0 {
		return nil, fmt.Errorf("session: time budget must be positive, got %d", e.budget)
	}
	if e.bonus < 0 {
		return nil, fmt.Errorf("session: time bonus must not be negative, got %d", e.bonus)
	}
	if e.startLevel < 1 || e.startLevel > cfg.Curriculum.Levels() {
		return nil, fmt.Errorf("%w: %d outside 1..%d", ErrInvalidStartLevel, e.startLevel, cfg.Curriculum.Levels())
	}
	if cfg.Mode == ModeTimeAttack && cfg.Curriculum.PoolSize() == 0 {
		return nil, errors.New("session: curriculum has no time-attack words")
	}
	e.log = e.log.With("mode", string(cfg.Mode))

	e.state = Snapshot{Mode: cfg.Mode, Phase: PhaseIdle}
	switch cfg.Mode {
	case ModeProgression:
		e.setWordLocked(e.startLevel, 0)
	case ModeTimeAttack:
		e.state.CurrentWord = ReadyPlaceholder
		e.state.Timer = e.budget
	}
	return e, nil
}

// Mode returns the session mode.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// Start moves the session to [PhaseAwaitingAttempt]. A time-attack session
// draws its first word and starts the countdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return fmt.Errorf("%w: already started", ErrInvalidAttemptState)
	}
	e.started = true

	if e.cfg.Mode == ModeTimeAttack {
		e.drawLocked()
		if e.tickInterval > 0 {
			e.scheduleTickLocked()
		}
	}
	e.state.Phase = PhaseAwaitingAttempt
	e.metrics.ActiveSessions.Add(ctx, 1, e.modeAttr())
	e.log.Info("session started", "word", e.state.CurrentWord)
	e.emitLocked(EventStarted, nil)
	return nil
}

// SubmitAttempt evaluates one recording of the current word.
//
// It is legal only in [PhaseAwaitingAttempt]; otherwise it returns
// [ErrInvalidAttemptState] and leaves the state unchanged. On a finished
// session it is a no-op that returns an ignored outcome. Transcription
// failures are recovered as a zero-accuracy failed attempt and reported in
// [Outcome.Err]. Undecodable audio and cancellation of ctx are returned as
// errors and leave the counters untouched.
func (e *Engine) SubmitAttempt(ctx context.Context, sample audio.Sample) (Outcome, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if e.state.Terminal {
		out := Outcome{Ignored: true, Seq: e.state.Seq, Snapshot: e.state.clone()}
		e.mu.Unlock()
		return out, nil
	}
	if e.state.Phase != PhaseAwaitingAttempt {
		phase := e.state.Phase
		e.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: phase is %s", ErrInvalidAttemptState, phase)
	}

	e.state.Seq++
	seq := e.state.Seq
	word := e.state.CurrentWord
	prevErr := e.state.LastError
	e.state.Phase = PhaseAttemptInFlight
	e.state.LastError = ""
	e.emitLocked(EventSubmitted, nil)
	e.mu.Unlock()

	ctx, span := observe.StartAttemptSpan(ctx, string(e.cfg.Mode), word, seq)
	res, err := e.cfg.Gateway.Transcribe(ctx, gateway.Request{
		Audio:      sample,
		Expected:   word,
		Credential: e.cfg.Credential,
	})
	defer observe.EndSpan(span, err, gateway.Kind(err))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.state.Seq != seq || e.state.Phase != PhaseAttemptInFlight {
		e.log.Debug("dropping stale transcription", "seq", seq, "phase", string(e.state.Phase), "closed", e.closed)
		return Outcome{Ignored: true, Seq: seq, Snapshot: e.state.clone()}, nil
	}

	if errors.Is(err, gateway.ErrBadAudio) {
		e.state.Phase = PhaseAwaitingAttempt
		e.state.LastError = prevErr
		return Outcome{}, fmt.Errorf("session: %w", err)
	}

	// The caller went away mid-transcription. The attempt never counted.
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		e.log.Debug("attempt abandoned by caller", "seq", seq, "word", word)
		e.state.Phase = PhaseAwaitingAttempt
		e.state.LastError = prevErr
		e.emitLocked(EventReady, nil)
		return Outcome{}, fmt.Errorf("session: attempt abandoned: %w", context.Canceled)
	}

	e.attempts++
	var out Outcome
	if err != nil {
		out = e.applyFailureLocked(ctx, seq, err)
	} else {
		out = e.applyResultLocked(ctx, seq, word, res)
	}
	out.Snapshot = e.state.clone()
	return out, nil
}

// applyFailureLocked records a failed transcription as a zero-accuracy
// attempt. The word is kept so that the player can retry immediately.
func (e *Engine) applyFailureLocked(ctx context.Context, seq uint64, err error) Outcome {
	kind := gateway.Kind(err)
	e.metrics.RecordAttempt(ctx, string(e.cfg.Mode), "error")
	observe.LoggerFrom(ctx, e.log).Warn("attempt not transcribed", "seq", seq, "word", e.state.CurrentWord, "kind", kind, "err", err)

	e.state.LastAttempt = &AttemptResult{}
	e.state.LastError = failureMessage(kind)
	e.state.Stars = 0
	e.state.Combo = 0
	if e.cfg.Mode == ModeProgression {
		e.state.RetryCount++
		e.state.HintAvailable = e.state.RetryCount >= 2
	}
	e.state.Phase = PhaseAwaitingAttempt
	e.emitLocked(EventAttempt, err)
	return Outcome{Seq: seq, Err: err}
}

func (e *Engine) applyResultLocked(ctx context.Context, seq uint64, word string, res gateway.Result) Outcome {
	accuracy := scoring.Score(res.Transcript, word)
	overall := scoring.Overall(res.Confidence, accuracy)
	result := AttemptResult{
		Transcript:   res.Transcript,
		Confidence:   res.Confidence,
		Accuracy:     accuracy,
		OverallScore: overall,
	}
	success := scoring.IsSuccess(overall)
	out := Outcome{Seq: seq, Result: result, Success: success}

	e.state.LastAttempt = &result
	e.state.Stars = scoring.Stars(overall)

	outcome := "failure"
	if success {
		outcome = "success"
	}
	e.metrics.RecordAttempt(ctx, string(e.cfg.Mode), outcome)
	observe.RecordScore(ctx, overall, success)
	observe.LoggerFrom(ctx, e.log).Info("attempt evaluated",
		"seq", seq,
		"word", word,
		"transcript", res.Transcript,
		"accuracy", accuracy,
		"overall", overall,
		"success", success,
	)

	gen := e.gen
	switch {
	case success && e.cfg.Mode == ModeTimeAttack:
		comboBefore := e.state.Combo
		e.bumpComboLocked()
		e.state.Timer += e.bonus
		e.state.Score += 100 + 10*comboBefore
		e.state.Phase = PhaseAdvancing
		e.emitLocked(EventAttempt, nil)
		e.afterLocked(e.delays.TimeAttackSuccess, gen, e.nextRandomLocked)

	case success:
		e.bumpComboLocked()
		e.state.Encouragement = ""
		e.failed = nil
		if !slices.Contains(e.mastered, word) {
			e.mastered = append(e.mastered, word)
		}
		out.LedgerErr = e.writeLocked(ctx, word, overall, true)
		e.state.Phase = PhaseAdvancing
		e.emitLocked(EventAttempt, nil)
		e.afterLocked(e.delays.Advance, gen, e.nextWordLocked)

	case e.cfg.Mode == ModeTimeAttack:
		e.state.Combo = 0
		e.state.Phase = PhaseAdvancing
		e.emitLocked(EventAttempt, nil)
		e.afterLocked(e.delays.TimeAttackFail, gen, e.nextRandomLocked)

	default:
		e.state.Combo = 0
		e.state.RetryCount++
		e.state.HintAvailable = e.state.RetryCount >= 2
		e.state.Encouragement = e.encouragementLocked()
		e.failed = &result
		e.state.Phase = PhaseRetrying
		e.emitLocked(EventAttempt, nil)
		e.afterLocked(e.delays.Retry, gen, func() {
			e.state.Phase = PhaseAwaitingAttempt
			e.emitLocked(EventReady, nil)
		})
	}
	return out
}

// TimerTick counts the time-attack clock down by one second. It is ignored
// in progression, before Start and once the session ended. Ticks continue
// while an attempt is in flight.
func (e *Engine) TimerTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickLocked()
}

func (e *Engine) tickLocked() {
	if e.closed || !e.started || e.cfg.Mode != ModeTimeAttack || e.state.Terminal {
		return
	}
	e.state.Timer--
	if e.state.Timer > 0 {
		e.emitLocked(EventTick, nil)
		return
	}
	e.state.Timer = 0
	e.terminateLocked()
}

func (e *Engine) scheduleTickLocked() {
	e.ticker = e.clock.AfterFunc(e.tickInterval, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		e.tickLocked()
		if !e.state.Terminal {
			e.scheduleTickLocked()
		}
	})
}

// ManualAdvance skips the current progression word. Stars and combo are
// left as they are. If the player failed an evaluated attempt on the word,
// that attempt is recorded in the ledger as not mastered.
func (e *Engine) ManualAdvance(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Snapshot{}, ErrClosed
	}
	if e.cfg.Mode != ModeProgression {
		return Snapshot{}, fmt.Errorf("%w: manual advance in %s", ErrWrongMode, e.cfg.Mode)
	}
	if e.state.Phase != PhaseAwaitingAttempt && e.state.Phase != PhaseRetrying {
		return Snapshot{}, fmt.Errorf("%w: phase is %s", ErrInvalidAttemptState, e.state.Phase)
	}

	if e.failed != nil {
		// A failed write is reported through Snapshot.LedgerError and an
		// EventLedgerError; skipping still succeeds.
		_ = e.writeLocked(ctx, e.state.CurrentWord, e.failed.OverallScore, false)
	}
	e.cancelPendingLocked()
	e.log.Info("word skipped", "word", e.state.CurrentWord, "retries", e.state.RetryCount)
	e.nextWordLocked()
	return e.state.clone(), nil
}

// RequestHint synthesises the current word as slow speech. It is available
// in progression once the player failed the word twice.
func (e *Engine) RequestHint(ctx context.Context) (tts.Speech, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return tts.Speech{}, ErrClosed
	}
	if e.cfg.Hint == nil || e.cfg.Mode != ModeProgression || !e.state.HintAvailable || e.state.Terminal {
		e.mu.Unlock()
		return tts.Speech{}, ErrHintUnavailable
	}
	word := e.state.CurrentWord
	e.mu.Unlock()

	sp, err := e.cfg.Hint.Speak(ctx, word)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("session: hint for %q: %w", word, err)
	}

	e.mu.Lock()
	if !e.closed {
		e.emitLocked(EventHint, nil)
	}
	e.mu.Unlock()
	return sp, nil
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// TerminalSummary returns the end-of-session report once the session is
// finished.
func (e *Engine) TerminalSummary() (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Terminal {
		return Summary{}, ErrNotTerminal
	}
	s := Summary{
		Mode:          e.cfg.Mode,
		WordsMastered: slices.Clone(e.mastered),
		Score:         e.state.Score,
		Combo:         e.state.Combo,
		BestCombo:     e.state.BestCombo,
		Attempts:      e.attempts,
	}
	if s.WordsMastered == nil {
		s.WordsMastered = []string{}
	}
	if e.cfg.Mode == ModeProgression {
		s.LevelReached = e.state.Level
	}
	return s, nil
}

// Close discards the session. Scheduled transitions are cancelled, late
// transcriptions are dropped and subscriber channels are closed. Calling
// Close more than once is safe.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.cancelPendingLocked()
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	if e.started {
		e.metrics.ActiveSessions.Add(context.Background(), -1, e.modeAttr())
	}
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.log.Debug("session closed", "attempts", e.attempts)
}

// nextWordLocked moves progression to the following word, the next level
// or the end of the curriculum.
func (e *Engine) nextWordLocked() {
	e.state.RetryCount = 0
	e.state.HintAvailable = false
	e.state.Stars = 0
	e.state.LastAttempt = nil
	e.state.LastError = ""
	e.state.Encouragement = ""
	e.failed = nil

	next := e.state.WordIndex + 1
	if next < e.state.LevelSize {
		e.setWordLocked(e.state.Level, next)
		e.state.Phase = PhaseAwaitingAttempt
		e.emitLocked(EventAdvanced, nil)
		return
	}
	if e.state.Level >= e.cfg.Curriculum.Levels() {
		e.terminateLocked()
		return
	}

	e.log.Info("level complete", "level", e.state.Level)
	e.state.Phase = PhaseAdvancing
	e.afterLocked(e.delays.LevelAdvance, e.gen, func() {
		e.setWordLocked(e.state.Level+1, 0)
		e.state.Phase = PhaseAwaitingAttempt
		e.emitLocked(EventLevelUp, nil)
	})
}

// nextRandomLocked draws the next time-attack word.
func (e *Engine) nextRandomLocked() {
	e.drawLocked()
	e.state.Stars = 0
	e.state.LastAttempt = nil
	e.state.LastError = ""
	e.state.Phase = PhaseAwaitingAttempt
	e.emitLocked(EventAdvanced, nil)
}

func (e *Engine) drawLocked() {
	pool := e.cfg.Curriculum
	e.state.CurrentWord = pool.PoolItem(e.rand.IntN(pool.PoolSize())).Text
}

func (e *Engine) setWordLocked(level, index int) {
	item, _ := e.cfg.Curriculum.Word(level, index)
	e.state.Level = level
	e.state.WordIndex = index
	e.state.LevelSize = len(e.cfg.Curriculum.Words(level))
	e.state.CurrentWord = item.Text
}

func (e *Engine) terminateLocked() {
	e.state.Terminal = true
	e.state.Phase = PhaseTerminal
	e.state.HintAvailable = false
	e.cancelPendingLocked()
	e.log.Info("session finished", "score", e.state.Score, "best_combo", e.state.BestCombo, "attempts", e.attempts)
	e.emitLocked(EventTerminal, nil)
}

func (e *Engine) bumpComboLocked() {
	e.state.Combo++
	e.state.BestCombo = max(e.state.BestCombo, e.state.Combo)
}

// afterLocked runs f under the lock once d elapsed, unless gen moved on in
// the meantime. A non-positive d runs f immediately.
func (e *Engine) afterLocked(d time.Duration, gen uint64, f func()) {
	if d <= 0 {
		f()
		return
	}
	e.pending = e.clock.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || e.gen != gen || e.state.Terminal {
			return
		}
		e.pending = nil
		f()
	})
}

// cancelPendingLocked drops the scheduled transition, if any. The
// countdown is not affected.
func (e *Engine) cancelPendingLocked() {
	e.gen++
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

// writeLocked upserts the mastery record for word. Failures are surfaced in
// the snapshot and as an event; gameplay continues.
func (e *Engine) writeLocked(ctx context.Context, word string, overall int, mastered bool) error {
	rec := ledger.MasteryRecord{
		Word:      word,
		Accuracy:  overall,
		Mastered:  mastered,
		Level:     e.state.Level,
		Timestamp: e.clock.Now(),
	}
	err := e.cfg.Ledger.Upsert(ctx, rec)
	e.metrics.RecordLedgerWrite(ctx, err)
	if err == nil {
		e.state.LedgerError = ""
		return nil
	}
	if !errors.Is(err, ledger.ErrWrite) {
		err = fmt.Errorf("%w: %w", ledger.ErrWrite, err)
	}
	observe.LoggerFrom(ctx, e.log).Warn("mastery record not saved", "word", word, "err", err)
	e.state.LedgerError = err.Error()
	e.emitLocked(EventLedgerError, err)
	return err
}

func (e *Engine) encouragementLocked() string {
	if len(e.encouragements) == 0 {
		return ""
	}
	return e.encouragements[e.rand.IntN(len(e.encouragements))]
}

func (e *Engine) modeAttr() metric.AddOption {
	return metric.WithAttributes(attribute.String("mode", string(e.cfg.Mode)))
}

func failureMessage(kind string) string {
	switch kind {
	case "empty_transcript":
		return "I didn't hear anything. Try again!"
	case "unauthorized":
		return "Your sign-in expired. Please log in again."
	default:
		return "Something went wrong. Try again!"
	}
}
