package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

// SSEWriter writes events as server-sent events. Headers are sent with
// the first event so callers can still answer with a plain HTTP error
// before anything is streamed.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context

	mu      sync.Mutex
	started bool
	gone    bool
}

// NewSSEWriter wraps w. ctx is the request context; once it is done every
// Send fails with ErrClientGone.
func NewSSEWriter(ctx context.Context, w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by %T", w)
	}
	return &SSEWriter{w: w, flusher: flusher, ctx: ctx}, nil
}

// Started reports whether any event has been written
func (s *SSEWriter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Send writes one event and flushes it
func (s *SSEWriter) Send(ev Event) error {
	if !ev.Valid() {
		L_error("stream: rejected event", "kind", string(ev.kind))
		return ErrUnknownEvent
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("stream: encode %s: %w", ev.kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gone {
		return ErrClientGone
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		s.gone = true
		return fmt.Errorf("%w: %v", ErrClientGone, s.ctx.Err())
	}

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.gone = true
		L_debug("stream: client write failed", "kind", string(ev.kind), "error", err)
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	s.flusher.Flush()
	return nil
}
