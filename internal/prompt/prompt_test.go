package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/foremanhq/foreman/internal/card"
)

func TestAssembleIncludesIdentityAndCardAlways(t *testing.T) {
	store := card.NewMemoryStore()
	c := card.Card{ID: "c1", ProjectID: "p1", Title: "Fix the thing", Description: "do the fix"}
	p := card.Project{ID: "p1", Name: "Acme"}

	out := Assemble(context.Background(), store, c, p)

	if !strings.Contains(out, "Acme") {
		t.Error("expected project name in assembled prompt")
	}
	if !strings.Contains(out, "Fix the thing") {
		t.Error("expected card title in assembled prompt")
	}
	if !strings.Contains(out, "Completion checklist") {
		t.Error("expected checklist section")
	}
}

func TestAssembleToleratesMissingOptionalProviders(t *testing.T) {
	store := card.NewMemoryStore()
	c := card.Card{ID: "c1", ProjectID: "p1", Title: "T"}
	p := card.Project{ID: "p1", Name: "Acme"}

	// MemoryStore implements none of the optional provider interfaces; this
	// must never fail assembly.
	out := Assemble(context.Background(), store, c, p)
	if out == "" {
		t.Fatal("expected a non-empty assembled prompt")
	}
}

type fakeDecisionStore struct {
	*card.MemoryStore
	decisions []Decision
}

func (f *fakeDecisionStore) GetRecentDecisions(ctx context.Context, projectID string, limit int) ([]Decision, error) {
	return f.decisions, nil
}

func TestAssembleDropsDecisionsFirstOnOverflow(t *testing.T) {
	base := card.NewMemoryStore()
	store := &fakeDecisionStore{
		MemoryStore: base,
		decisions:   []Decision{{Title: "Use Postgres", Body: strings.Repeat("x", 500)}},
	}
	c := card.Card{ID: "c1", ProjectID: "p1", Title: "T", Description: strings.Repeat("y", 200)}
	p := card.Project{ID: "p1", Name: "Acme"}

	full := AssembleWithBudget(context.Background(), store, c, p, Budget{MaxPromptChars: 100000, MaxDocChars: 4000})
	if !strings.Contains(full, "Use Postgres") {
		t.Fatal("expected decisions section when budget is generous")
	}

	tight := AssembleWithBudget(context.Background(), store, c, p, Budget{MaxPromptChars: len(full) - 50, MaxDocChars: 4000})
	if strings.Contains(tight, "Use Postgres") {
		t.Error("expected decisions section to be dropped under a tight budget")
	}
	if !strings.Contains(tight, "T") {
		t.Error("expected card title to survive even under a tight budget")
	}
}
