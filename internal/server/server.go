// Package server exposes practice sessions over HTTP and WebSocket.
//
// Each session is an independent single-player [session.Engine] addressed by
// a UUID. Clients create a session, upload recordings of the current word
// and follow state changes either by polling the snapshot or by streaming
// events over a WebSocket:
//
//	POST   /api/sessions                 create (body: {"mode": "progression"|"time_attack"})
//	GET    /api/sessions/{id}            snapshot
//	POST   /api/sessions/{id}/attempts   multipart upload, field "audioBlob"
//	POST   /api/sessions/{id}/advance    skip to the next word
//	POST   /api/sessions/{id}/hint       slowed-down speech of the current word
//	GET    /api/sessions/{id}/summary    final summary of a finished session
//	GET    /api/sessions/{id}/events     WebSocket event stream
//	DELETE /api/sessions/{id}            discard
//	GET    /api/progress                 mastery records and report
//	DELETE /api/progress                 clear all mastery records
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/vocalis/internal/health"
	"github.com/MrWong99/vocalis/internal/ledger"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/session"
	"github.com/google/uuid"
)

// Defaults for [Server] options.
const (
	DefaultMaxUploadBytes = 8 << 20
	DefaultSessionTTL     = 30 * time.Minute
	DefaultSweepInterval  = time.Minute
)

// SessionRequest describes a session the server wants created.
type SessionRequest struct {
	ID   uuid.UUID
	Mode session.Mode

	// Level is the requested start level of a progression session, or 0
	// for the first level.
	Level int

	Credential string
}

// EngineFactory builds a new, not yet started engine.
type EngineFactory func(ctx context.Context, req SessionRequest) (*session.Engine, error)

// Server routes HTTP requests to practice sessions.
type Server struct {
	newEngine EngineFactory
	ledger    ledger.Ledger
	sessions  *Registry

	log            *slog.Logger
	metrics        *observe.Metrics
	jwtSecret      []byte
	maxUpload      int64
	ttl            time.Duration
	sweep          time.Duration
	health         *health.Handler
	metricsHandler http.Handler
	originPatterns []string
	now            func() time.Time

	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithJWTSecret enables HS256 bearer-token auth on /api routes.
func WithJWTSecret(secret string) Option {
	return func(s *Server) { s.jwtSecret = []byte(secret) }
}

// WithMaxUploadBytes caps the size of one attempt upload.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithSessionTTL sets how long an untouched session survives.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithSweepInterval sets how often [Server.Run] prunes idle sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sweep = d
		}
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithNow overrides the clock used for session expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a server that builds sessions with factory and reports
// progress from led.
func New(factory EngineFactory, led ledger.Ledger, opts ...Option) (*Server, error) {
	if factory == nil {
		return nil, errors.New("server: engine factory is required")
	}
	if led == nil {
		return nil, errors.New("server: ledger is required")
	}
	s := &Server{
		newEngine: factory,
		ledger:    led,
		log:       slog.Default(),
		metrics:   observe.DefaultMetrics(),
		maxUpload: DefaultMaxUploadBytes,
		ttl:       DefaultSessionTTL,
		sweep:     DefaultSweepInterval,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.sessions = NewRegistry(s.now)
	s.handler = observe.Middleware(s.metrics)(s.routes())
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Sessions returns the live session registry.
func (s *Server) Sessions() *Registry { return s.sessions }

// Run prunes idle sessions until ctx is done, then closes every session and
// returns ctx.Err().
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	defer s.sessions.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.sessions.Prune(s.ttl); n > 0 {
				s.log.Info("pruned idle sessions", "count", n, "ttl", s.ttl)
			}
		}
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireAuth(h))
	}
	api("POST /api/sessions", s.createSession)
	api("GET /api/sessions/{id}", s.withSession(s.getSession))
	api("DELETE /api/sessions/{id}", s.deleteSession)
	api("POST /api/sessions/{id}/attempts", s.withSession(s.submitAttempt))
	api("POST /api/sessions/{id}/advance", s.withSession(s.advance))
	api("POST /api/sessions/{id}/hint", s.withSession(s.hint))
	api("GET /api/sessions/{id}/summary", s.withSession(s.summary))
	api("GET /api/sessions/{id}/events", s.withSession(s.events))
	api("GET /api/progress", s.getProgress)
	api("DELETE /api/progress", s.clearProgress)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return mux
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, id uuid.UUID, e *session.Engine)

// withSession resolves the {id} path value to a live session.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: %q", ErrSessionNotFound, r.PathValue("id")))
			return
		}
		e, ok := s.sessions.Get(id)
		if !ok {
			s.writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: %s", ErrSessionNotFound, id))
			return
		}
		h(w, r, id, e)
	}
}
