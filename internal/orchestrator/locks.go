package orchestrator

import "sync"

// convLocks tracks conversations with a generation in flight
type convLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newConvLocks() *convLocks {
	return &convLocks{active: make(map[string]struct{})}
}

// acquire marks id busy. The returned release is safe to call more than once.
func (l *convLocks) acquire(id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[id]; busy {
		return nil, ErrConversationBusy
	}
	l.active[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, id)
			l.mu.Unlock()
		})
	}, nil
}

func (l *convLocks) busy(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[id]
	return ok
}
