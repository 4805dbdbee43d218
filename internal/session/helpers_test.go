package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vocalis/internal/curriculum"
	"github.com/MrWong99/vocalis/internal/gateway"
	"github.com/MrWong99/vocalis/internal/ledger"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/pkg/audio"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// fakeClock fires scheduled callbacks only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Advance moves time forward, firing due callbacks in order. Callbacks run
// without the clock lock held and may schedule further timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// seqRand replays fixed values modulo n.
type seqRand struct {
	mu   sync.Mutex
	vals []int
	i    int
}

func (r *seqRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.vals) == 0 {
		return 0
	}
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v % n
}

// step is one scripted gateway response.
type step struct {
	transcript string
	confidence float64
	err        error
}

// scriptGateway answers attempts from a script and records the requests.
type scriptGateway struct {
	mu    sync.Mutex
	steps []step
	reqs  []gateway.Request
}

func (g *scriptGateway) Transcribe(_ context.Context, req gateway.Request) (gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if len(g.steps) == 0 {
		return gateway.Result{Transcript: req.Expected, Confidence: 1}, nil
	}
	s := g.steps[0]
	g.steps = g.steps[1:]
	if s.err != nil {
		return gateway.Result{}, s.err
	}
	return gateway.Result{Transcript: s.transcript, Confidence: s.confidence}, nil
}

func (g *scriptGateway) requests() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Request(nil), g.reqs...)
}

// blockingGateway holds every call until released.
type blockingGateway struct {
	entered chan struct{}
	release chan gateway.Result
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{entered: make(chan struct{}, 4), release: make(chan gateway.Result, 4)}
}

func (g *blockingGateway) Transcribe(ctx context.Context, _ gateway.Request) (gateway.Result, error) {
	g.entered <- struct{}{}
	select {
	case r := <-g.release:
		return r, nil
	case <-ctx.Done():
		return gateway.Result{}, ctx.Err()
	}
}

// failingLedger rejects every write.
type failingLedger struct{ ledger.MemLedger }

func (*failingLedger) Upsert(context.Context, ledger.MasteryRecord) error {
	return ledger.ErrWrite
}

var sample = audio.Sample{Encoding: audio.EncodingPCM16, Data: make([]byte, 320), Format: audio.SpeechFormat}

type harness struct {
	e     *Engine
	clock *fakeClock
	gw    *scriptGateway
	led   *ledger.MemLedger
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newHarness builds a started engine with a fake clock, no delays and no
// automatic countdown unless opts override them.
func newHarness(t *testing.T, mode Mode, steps []step, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(),
		gw:    &scriptGateway{steps: steps},
		led:   ledger.NewMemLedger(),
	}
	base := []Option{
		WithClock(h.clock),
		WithDelays(NoDelays()),
		WithTickInterval(0),
		WithRand(&seqRand{vals: []int{0, 1, 2, 3, 4, 5, 6, 7}}),
		WithMetrics(testMetrics(t)),
	}
	e, err := New(Config{
		Mode:       mode,
		Curriculum: curriculum.Default(),
		Gateway:    h.gw,
		Ledger:     h.led,
		Credential: "player-token",
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Close)
	h.e = e
	return h
}

func (h *harness) submit(t *testing.T) Outcome {
	t.Helper()
	out, err := h.e.SubmitAttempt(context.Background(), sample)
	if err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	return out
}

func (h *harness) records(t *testing.T) []ledger.MasteryRecord {
	t.Helper()
	recs, err := h.led.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return recs
}

func pass(word string) step { return step{transcript: word, confidence: 1} }

func miss(transcript string) step { return step{transcript: transcript, confidence: 0.2} }
