package broadcast

import (
	"testing"

	"github.com/foremanhq/foreman/internal/event"
)

func TestEmitDeliversToUnscopedSubscriber(t *testing.T) {
	b := New()
	var got []event.Event
	b.Subscribe(FuncSubscriber(func(e event.Event) { got = append(got, e) }), nil)

	b.Emit(event.Event{Type: event.TypeAgentSpawned, ProjectID: "p1"})
	b.Emit(event.Event{Type: event.TypeAgentSpawned, ProjectID: "p2"})

	if len(got) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(got))
	}
}

func TestEmitRespectsProjectScope(t *testing.T) {
	b := New()
	var got []event.Event
	b.Subscribe(FuncSubscriber(func(e event.Event) { got = append(got, e) }), NewProjectScope("p1"))

	b.Emit(event.Event{Type: event.TypeAgentSpawned, ProjectID: "p1"})
	b.Emit(event.Event{Type: event.TypeAgentSpawned, ProjectID: "p2"})
	b.Emit(event.Event{Type: event.TypeHeartbeatTick}) // no ProjectID: always delivered

	if len(got) != 2 {
		t.Fatalf("expected 2 delivered events (p1 + unscoped), got %d", len(got))
	}
}

func TestEmitRemovesDeadSubscriber(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(FuncSubscriber(func(e event.Event) { calls++ }), nil)
	deadID := b.Subscribe(deadSubscriber{}, nil)
	_ = deadID

	b.Emit(event.Event{Type: event.TypeHeartbeatTick})
	if b.Subscribers() != 1 {
		t.Errorf("expected dead subscriber to be removed, have %d subscribers", b.Subscribers())
	}
	if calls != 1 {
		t.Errorf("expected the live subscriber to still receive events, got %d calls", calls)
	}
}

type deadSubscriber struct{}

func (deadSubscriber) Deliver(event.Event) bool { return false }

func TestEmitPreservesPerSubscriberOrder(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(FuncSubscriber(func(e event.Event) { got = append(got, string(e.Type)) }), nil)

	b.Emit(event.Event{Type: event.TypeAgentSpawned})
	b.Emit(event.Event{Type: event.TypeAgentLog})
	b.Emit(event.Event{Type: event.TypeAgentCompleted})

	want := []string{"agent.spawned", "agent.log", "agent.completed"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
