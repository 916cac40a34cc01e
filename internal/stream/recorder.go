package stream

import (
	"sync"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

// Recorder is an in-memory Sink for tests. It can simulate a client that
// goes away after a number of events. Production code writes to SSEWriter.
type Recorder struct {
	mu     sync.Mutex
	events []Event

	// FailAfter, when > 0, makes every Send after that many accepted
	// events return ErrClientGone.
	FailAfter int
}

// Send records ev
func (r *Recorder) Send(ev Event) error {
	if !ev.Valid() {
		L_error("stream: rejected event", "kind", string(ev.kind))
		return ErrUnknownEvent
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAfter > 0 && len(r.events) >= r.FailAfter {
		return ErrClientGone
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in order
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	out := make([]Kind, len(events))
	for i, ev := range events {
		out[i] = ev.kind
	}
	return out
}

// Texts returns the string payloads of events of kind k
func (r *Recorder) Texts(k Kind) []string {
	var out []string
	for _, ev := range r.Events() {
		if ev.kind != k {
			continue
		}
		if s, ok := ev.content.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
