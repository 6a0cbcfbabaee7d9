// File: internal/transport/pending.go
package transport

import (
	"sync"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// outcome is what a waiter receives: exactly one of Envelope or Err.
type outcome struct {
	Envelope *schemas.Envelope
	Err      error
}

// waiter is one in-flight correlated request.
type waiter struct {
	sessionID string
	// expectKind is the result kind the request pairs with; empty means any.
	expectKind string
	// ch is buffered with capacity 1 so the resolving side never blocks even
	// if the waiter has already given up.
	ch chan outcome
}

// resolution is the outcome of routing an inbound correlated envelope.
type resolution int

const (
	resolved resolution = iota
	// unknownCorrelation: no waiter for the id; it timed out, was evicted, or
	// never existed.
	unknownCorrelation
	// kindMismatch: a waiter exists but the envelope type is not the result
	// kind the request expects. The waiter stays registered.
	kindMismatch
)

// pendingTable tracks in-flight correlated requests. Every entry is resolved
// at most once: resolution, timeout eviction and session eviction all pop the
// entry under the same lock, so exactly one of them delivers.
type pendingTable struct {
	mu        sync.Mutex
	waiters   map[string]*waiter
	bySession map[string]map[string]struct{}
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		waiters:   make(map[string]*waiter),
		bySession: make(map[string]map[string]struct{}),
	}
}

// register creates a waiter for correlationID and returns its channel.
// expectKind names the only envelope type resolve will accept; pass "" to
// accept any.
func (p *pendingTable) register(sessionID, correlationID, expectKind string) <-chan outcome {
	w := &waiter{sessionID: sessionID, expectKind: expectKind, ch: make(chan outcome, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters[correlationID] = w
	ids, ok := p.bySession[sessionID]
	if !ok {
		ids = make(map[string]struct{})
		p.bySession[sessionID] = ids
	}
	ids[correlationID] = struct{}{}
	return w.ch
}

// pop removes and returns the waiter for correlationID, if any.
func (p *pendingTable) pop(correlationID string) (*waiter, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.waiters[correlationID]
	if !ok {
		return nil, false
	}
	p.remove(correlationID, w.sessionID)
	return w, true
}

// resolve delivers env to the waiter registered for correlationID. An unknown
// id is a safe no-op: the request may have timed out and been evicted moments
// earlier. An envelope whose type does not match the waiter's expected result
// kind is rejected without popping, so the real reply can still land before
// the deadline.
func (p *pendingTable) resolve(correlationID string, env *schemas.Envelope) resolution {
	p.mu.Lock()
	w, ok := p.waiters[correlationID]
	if !ok {
		p.mu.Unlock()
		return unknownCorrelation
	}
	if w.expectKind != "" && env.Type != w.expectKind {
		p.mu.Unlock()
		return kindMismatch
	}
	p.remove(correlationID, w.sessionID)
	p.mu.Unlock()

	w.ch <- outcome{Envelope: env}
	return resolved
}

// evict removes the waiter for correlationID without delivering anything.
// Used by the requesting side after its own deadline fires.
func (p *pendingTable) evict(correlationID string) bool {
	_, ok := p.pop(correlationID)
	return ok
}

// evictSession fails every in-flight request of sessionID with err and
// returns how many waiters were woken.
func (p *pendingTable) evictSession(sessionID string, err error) int {
	p.mu.Lock()
	ids := p.bySession[sessionID]
	delete(p.bySession, sessionID)
	woken := make([]*waiter, 0, len(ids))
	for id := range ids {
		if w, ok := p.waiters[id]; ok {
			delete(p.waiters, id)
			woken = append(woken, w)
		}
	}
	p.mu.Unlock()

	for _, w := range woken {
		w.ch <- outcome{Err: err}
	}
	return len(woken)
}

// remove must be called with p.mu held.
func (p *pendingTable) remove(correlationID, sessionID string) {
	delete(p.waiters, correlationID)
	if ids, ok := p.bySession[sessionID]; ok {
		delete(ids, correlationID)
		if len(ids) == 0 {
			delete(p.bySession, sessionID)
		}
	}
}

// len reports the number of in-flight requests, for tests and metrics.
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
