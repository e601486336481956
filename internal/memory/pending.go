package memory

import "sync"

// pendingResponses holds one waiter per session for chat-completion
// requests that block until the AI backend posts its answer back.
type pendingResponses struct {
	mu      sync.Mutex
	waiters map[string]chan map[string]any
}

func newPendingResponses() *pendingResponses {
	return &pendingResponses{waiters: make(map[string]chan map[string]any)}
}

// register replaces any existing waiter for the session. The returned
// channel has capacity one so complete never blocks.
func (p *pendingResponses) register(sessionID string) chan map[string]any {
	ch := make(chan map[string]any, 1)
	p.mu.Lock()
	p.waiters[sessionID] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingResponses) cancel(sessionID string) {
	p.mu.Lock()
	delete(p.waiters, sessionID)
	p.mu.Unlock()
}

// complete hands the payload to the session's waiter, if any, and
// reports whether one was waiting.
func (p *pendingResponses) complete(sessionID string, payload map[string]any) bool {
	p.mu.Lock()
	ch, ok := p.waiters[sessionID]
	if ok {
		delete(p.waiters, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- payload
	return true
}
