// Package broadcast fans typed events out to subscribers, each scoped to an
// optional set of project IDs. A small injected dependency with a
// synchronous broadcast(event) method, called by every phase transition,
// in place of a module-level mutable broadcaster handle.
package broadcast

import (
	"sync"

	"github.com/foremanhq/foreman/internal/event"
)

// Subscriber receives events delivered by a Broadcaster. Deliver must not
// block for long; a Broadcaster drops a subscriber whose Deliver reports it
// is no longer usable.
type Subscriber interface {
	// Deliver hands the subscriber one event. It returns false if the
	// subscriber is dead (closed connection, broken pipe) and should be
	// removed from the broadcaster.
	Deliver(e event.Event) bool
}

// ProjectScope narrows delivery to a fixed set of project IDs. A nil or
// empty scope receives every project-scoped event (no filtering); an event
// with no ProjectID is always delivered regardless of scope.
type ProjectScope map[string]bool

// NewProjectScope builds a scope from a list of project IDs.
func NewProjectScope(ids ...string) ProjectScope {
	s := make(ProjectScope, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func (s ProjectScope) allows(projectID string) bool {
	if projectID == "" {
		return true
	}
	if len(s) == 0 {
		return true
	}
	return s[projectID]
}

type subscription struct {
	id   uint64
	sub  Subscriber
	scope ProjectScope
}

// Broadcaster is the Sink implementation wired into the Orchestrator,
// Heartbeat, and AgentSupervisor. Broadcast is synchronous and preserves
// per-subscriber emission order, since every caller already holds whatever
// serialization it needs (the orchestrator mutex for spawn, one supervisor
// goroutine per card for its own events).
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

// New constructs an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a subscriber scoped to the given project IDs (empty
// means "all projects") and returns a handle used to Unsubscribe later.
func (b *Broadcaster) Subscribe(sub Subscriber, scope ProjectScope) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscription{id: id, sub: sub, scope: scope}
	return id
}

// Unsubscribe removes a subscriber. Idempotent.
func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscribers reports the current subscriber count, mainly for tests.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit implements event.Sink: it synchronously iterates every subscriber in
// registration order and delivers the event iff the subscriber's scope
// allows it. A subscriber whose Deliver returns false is removed.
func (b *Broadcaster) Emit(e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	// Registration order: subscription IDs are assigned monotonically, so a
	// numeric sort reproduces it without keeping a separate ordered slice.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	for _, id := range ids {
		s, ok := b.subs[id]
		if !ok {
			continue
		}
		if !s.scope.allows(e.ProjectID) {
			continue
		}
		if !s.sub.Deliver(e) {
			delete(b.subs, id)
		}
	}
}

// FuncSubscriber adapts a plain function to the Subscriber interface — the
// common case where a caller just wants a callback per event and has no
// connection-liveness state of its own to report.
type FuncSubscriber func(e event.Event)

func (f FuncSubscriber) Deliver(e event.Event) bool {
	f(e)
	return true
}
