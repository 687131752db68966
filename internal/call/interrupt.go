package call

import "sync"

// InterruptToken is the per-turn barge-in signal. The STT event loop raises
// it when the caller starts speaking over the agent; the speak pipeline both
// polls Raised and selects on Done so it can stop forwarding audio at the
// next suspension point. Reset arms the token again at the start of a turn.
//
// Raising only ever cancels the current speak subtree. The call-wide context
// is a separate, wider scope.
type InterruptToken struct {
	mu     sync.Mutex
	raised bool
	ch     chan struct{}
}

// NewInterruptToken returns an armed, unraised token.
func NewInterruptToken() *InterruptToken {
	return &InterruptToken{ch: make(chan struct{})}
}

// Raise marks the token raised and closes the Done channel. Raising an
// already-raised token is a no-op.
func (t *InterruptToken) Raise() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.raised {
		return
	}
	t.raised = true
	close(t.ch)
}

// Raised reports whether the token has been raised since the last Reset.
func (t *InterruptToken) Raised() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.raised
}

// Done returns a channel that is closed once the token is raised. The
// returned channel is only valid until the next Reset.
func (t *InterruptToken) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}

// Reset re-arms the token for a new turn.
func (t *InterruptToken) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.raised {
		t.raised = false
		t.ch = make(chan struct{})
	}
}
