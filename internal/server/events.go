package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	eventBuffer  = 32
	writeTimeout = 5 * time.Second
)

// EventSnapshot is the kind of the first message on every stream. It carries
// the state at subscription time.
const EventSnapshot session.EventKind = "snapshot"

// wireEvent is the JSON form of a [session.Event].
type wireEvent struct {
	Kind     session.EventKind `json:"kind"`
	Snapshot session.Snapshot  `json:"snapshot"`
	Error    string            `json:"error,omitempty"`
}

func toWire(ev session.Event) wireEvent {
	w := wireEvent{Kind: ev.Kind, Snapshot: ev.Snapshot}
	if ev.Err != nil {
		w.Error = ev.Err.Error()
	}
	return w
}

// events upgrades to a WebSocket and forwards engine events until the client
// goes away or the session is closed.
func (s *Server) events(w http.ResponseWriter, r *http.Request, id uuid.UUID, e *session.Engine) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		// Accept has already written the HTTP error.
		return
	}
	defer conn.CloseNow()

	log := observe.LoggerFrom(r.Context(), s.log).With("session_id", id)

	ch, unsubscribe := e.Subscribe(eventBuffer)
	defer unsubscribe()

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())

	if err := write(ctx, conn, wireEvent{Kind: EventSnapshot, Snapshot: e.Snapshot()}); err != nil {
		log.Debug("event stream ended", "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := write(ctx, conn, toWire(ev)); err != nil {
				log.Debug("event stream ended", "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v wireEvent) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
