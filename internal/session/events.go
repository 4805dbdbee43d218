package session

// Subscribe registers a listener for transitions. Events are delivered
// without blocking the engine: when the buffer of size buf is full the event
// is dropped for that subscriber. The returned function unsubscribes and is
// safe to call more than once. The channel is closed on unsubscribe or when
// the engine closes.
func (e *Engine) Subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, max(buf, 1))

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}

func (e *Engine) emitLocked(kind EventKind, err error) {
	if len(e.subs) == 0 {
		return
	}
	ev := Event{Kind: kind, Snapshot: e.state.clone(), Err: err}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
