// Package app wires all Vocalis subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithGateway,
// WithLedger, WithListener, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalis/internal/config"
	"github.com/MrWong99/vocalis/internal/curriculum"
	"github.com/MrWong99/vocalis/internal/gateway"
	"github.com/MrWong99/vocalis/internal/health"
	"github.com/MrWong99/vocalis/internal/hint"
	"github.com/MrWong99/vocalis/internal/ledger"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/server"
	"github.com/MrWong99/vocalis/internal/session"
	"github.com/MrWong99/vocalis/pkg/provider/tts"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after Run's
// context is cancelled.
const shutdownGrace = 10 * time.Second

// settings are the hot-reloadable parts of the config. New sessions read the
// current value; running sessions keep what they started with.
type settings struct {
	game       config.GameConfig
	curriculum *curriculum.Curriculum
	speaker    *hint.Speaker
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	version string

	log      *slog.Logger
	level    *slog.LevelVar
	registry *config.Registry
	metrics  *observe.Metrics

	gateway  gateway.Gateway
	ledger   ledger.Ledger
	tts      tts.Provider
	current  atomic.Pointer[settings]
	server   *server.Server
	httpSrv  *http.Server
	listener net.Listener
	watcher  *config.Watcher

	metricsHandler http.Handler
	configPath     string

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithRegistry replaces the provider registry. Default: the built-in
// providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithGateway injects the transcription gateway instead of building one from
// config.
func WithGateway(g gateway.Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithLedger injects the mastery ledger instead of opening one from config.
func WithLedger(l ledger.Ledger) Option {
	return func(a *App) { a.ledger = l }
}

// WithMetrics injects metric instruments. The OpenTelemetry SDK and the
// /metrics endpoint are then not set up.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithConfigPath enables hot reload by watching path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithVersion sets the service version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinProviders(a.registry)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Ledger ────────────────────────────────────────────────────────
	if err := a.initLedger(ctx); err != nil {
		return nil, fmt.Errorf("app: init ledger: %w", err)
	}

	// ── 3. Gateway ───────────────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 4. Hint voice ────────────────────────────────────────────────────
	p, err := buildTTS(cfg, a.registry, a.metrics, a.log)
	if err != nil {
		return nil, fmt.Errorf("app: init tts: %w", err)
	}
	a.tts = p

	// ── 5. Game settings, curriculum and hint speaker ────────────────────
	st, err := a.buildSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.current.Store(st)

	// ── 6. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	// ── 7. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, config.WithWatcherLogger(a.log))
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocalis",
		ServiceVersion: a.version,
		SetGlobal:      true,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, tel.Shutdown)

	m, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		return err
	}
	a.metrics = m
	a.metricsHandler = tel.MetricsHandler()
	return nil
}

func (a *App) initLedger(ctx context.Context) error {
	if a.ledger != nil {
		return nil
	}
	lc := a.cfg.Ledger
	switch lc.Backend {
	case config.LedgerFile:
		a.ledger = ledger.NewFileLedger(lc.Path)
	case config.LedgerPostgres:
		l, closeFn, err := ledger.OpenPostgres(ctx, lc.PostgresDSN)
		if err != nil {
			return err
		}
		a.ledger = l
		a.closers = append(a.closers, func(context.Context) error {
			closeFn()
			return nil
		})
	default:
		a.ledger = ledger.NewMemLedger()
	}
	a.log.Info("ledger ready", "backend", lc.Backend)
	return nil
}

func (a *App) initGateway() error {
	if a.gateway != nil {
		return nil
	}
	gc := a.cfg.Gateway
	var (
		g    gateway.Gateway
		name string
	)
	switch gc.Mode {
	case config.GatewayRemote:
		r, err := gateway.NewRemote(gc.RemoteURL,
			gateway.WithRemoteTimeout(gc.Timeout),
			gateway.WithRemoteLogger(a.log),
		)
		if err != nil {
			return err
		}
		g, name = r, "remote"
	default:
		p, err := buildSTT(a.cfg, a.registry, a.metrics, a.log)
		if err != nil {
			return err
		}
		g = gateway.NewProvider(p,
			gateway.WithTimeout(gc.Timeout),
			gateway.WithLanguage(a.cfg.Providers.STT.Language),
			gateway.WithLogger(a.log),
		)
		name = a.cfg.Providers.STT.Name
	}
	a.gateway = gateway.Instrument(g, name, a.metrics)
	a.log.Info("gateway ready", "mode", gc.Mode, "name", name)
	return nil
}

// buildSettings loads the curriculum and builds the hint speaker for cfg.
func (a *App) buildSettings(cfg *config.Config) (*settings, error) {
	cur := curriculum.Default()
	if path := cfg.Curriculum.Path; path != "" {
		c, err := curriculum.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load curriculum: %w", err)
		}
		cur = c
	}
	cur.LogCollisions(a.log)

	st := &settings{game: cfg.Game, curriculum: cur}
	if a.tts != nil {
		sp, err := hint.New(a.tts,
			hint.WithVoice(cfg.Hint.VoiceID),
			hint.WithSpeed(cfg.Hint.Speed),
			hint.WithLanguage(cfg.Hint.Language),
			hint.WithTimeout(cfg.Hint.Timeout),
			hint.WithMetrics(a.metrics),
			hint.WithLogger(a.log),
		)
		if err != nil {
			return nil, fmt.Errorf("hint speaker: %w", err)
		}
		st.speaker = sp
	}
	return st, nil
}

func (a *App) initServer() error {
	sc := a.cfg.Server
	hc := health.New([]health.Checker{{
		Name: "ledger",
		Check: func(ctx context.Context) error {
			_, err := a.ledger.ReadAll(ctx)
			return err
		},
	}})

	opts := []server.Option{
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithJWTSecret(sc.JWTSecret),
		server.WithMaxUploadBytes(sc.MaxUploadBytes),
		server.WithSessionTTL(sc.SessionTTL),
		server.WithHealth(hc),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	srv, err := server.New(a.newEngine, a.ledger, opts...)
	if err != nil {
		return err
	}
	a.server = srv
	a.httpSrv = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	return nil
}

// newEngine is the [server.EngineFactory]. It reads the settings current at
// creation time.
func (a *App) newEngine(_ context.Context, req server.SessionRequest) (*session.Engine, error) {
	st := a.current.Load()
	cfg := session.Config{
		Mode:       req.Mode,
		Curriculum: st.curriculum,
		Gateway:    a.gateway,
		Ledger:     a.ledger,
		Credential: req.Credential,
	}
	if st.speaker != nil {
		cfg.Hint = st.speaker
	}

	g := st.game
	opts := []session.Option{
		session.WithDelays(session.Delays{
			Advance:           g.AdvanceDelay,
			LevelAdvance:      g.LevelAdvanceDelay,
			Retry:             g.RetryDelay,
			TimeAttackSuccess: g.TimeAttackSuccessDelay,
			TimeAttackFail:    g.TimeAttackFailDelay,
		}),
		session.WithTimeBudget(g.TimeBudget),
		session.WithTimeBonus(g.TimeBonus),
		session.WithLogger(a.log.With("session_id", req.ID, "mode", req.Mode)),
		session.WithMetrics(a.metrics),
	}
	if len(g.Encouragements) > 0 {
		opts = append(opts, session.WithEncouragements(g.Encouragements))
	}
	if req.Level > 0 {
		opts = append(opts, session.WithStartLevel(req.Level))
	}
	return session.New(cfg, opts...)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// onConfigChange applies the reloadable parts of a changed config file.
func (a *App) onConfigChange(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GameChanged || d.HintChanged || d.CurriculumChanged {
		st, err := a.buildSettings(next)
		if err != nil {
			a.log.Error("config reload rejected, keeping previous settings", "err", err)
		} else {
			a.current.Store(st)
			a.log.Info("game settings reloaded",
				"game", d.GameChanged, "hint", d.HintChanged, "curriculum", d.CurriculumChanged)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Server returns the HTTP session server.
func (a *App) Server() *server.Server { return a.server }

// Run serves HTTP, prunes idle sessions and watches the config file until
// ctx is cancelled. It returns ctx.Err() after a clean stop.
func (a *App) Run(ctx context.Context) error {
	if a.listener == nil {
		ln, err := net.Listen("tcp", a.httpSrv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
		a.listener = ln
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Run(gctx) })

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		err := a.serve()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	a.log.Info("app running", "addr", a.Addr())
	return g.Wait()
}

func (a *App) serve() error {
	if t := a.cfg.Server.TLS; t != nil {
		return a.httpSrv.ServeTLS(a.listener, t.CertFile, t.KeyFile)
	}
	return a.httpSrv.Serve(a.listener)
}

// Addr returns the address the HTTP server listens on. Before Run it is the
// configured address unless a listener was injected.
func (a *App) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpSrv.Addr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every session and tears down subsystems in reverse init
// order. If ctx expires first, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.server.Sessions().CloseAll()

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = err
				return
			}
			if err := a.closers[i](ctx); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
