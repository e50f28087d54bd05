package card

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a reference, in-memory Store implementation. It exists so
// the orchestration subsystem (Orchestrator, Heartbeat, AgentSupervisor) is
// testable end-to-end without a real external database; the row-level CRUD
// store is an external collaborator, not part of this core.
type MemoryStore struct {
	mu       sync.RWMutex
	cards    map[string]*Card
	projects map[string]*Project
	audit    []AuditRecord
	usage    []TokenUsageRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards:    make(map[string]*Card),
		projects: make(map[string]*Project),
	}
}

// AddProject registers a project (test/CLI setup helper, not part of Store).
func (s *MemoryStore) AddProject(p Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.projects[p.ID] = &cp
}

// AddCard registers a card directly (test/CLI setup helper, not part of Store).
func (s *MemoryStore) AddCard(c Card) Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Column == "" {
		c.Column = ColumnBacklog
	}
	if c.AgentStatus == "" {
		c.AgentStatus = AgentIdle
	}
	if c.VerificationStatus == "" {
		c.VerificationStatus = VerificationUnverified
	}
	c.UpdatedAt = time.Now().UTC()
	cp := c
	s.cards[c.ID] = &cp
	return cp
}

func (s *MemoryStore) GetCard(_ context.Context, cardID string) (*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[cardID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListActiveProjects(_ context.Context) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Project
	for _, p := range s.projects {
		if p.Status == ProjectActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetBoard(_ context.Context, projectID string) (*Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b Board
	for _, c := range s.cards {
		if c.ProjectID != projectID {
			continue
		}
		switch c.Column {
		case ColumnBacklog:
			b.Backlog = append(b.Backlog, *c)
		case ColumnInProgress:
			b.InProgress = append(b.InProgress, *c)
		case ColumnDone:
			b.Done = append(b.Done, *c)
		}
	}
	sortByPriorityPosition(b.Backlog)
	sortByPriorityPosition(b.InProgress)
	sortByPriorityPosition(b.Done)
	return &b, nil
}

func sortByPriorityPosition(cards []Card) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].Priority != cards[j].Priority {
			return cards[i].Priority < cards[j].Priority
		}
		return cards[i].Position < cards[j].Position
	})
}

func (s *MemoryStore) GetNextCard(_ context.Context, projectID string) (*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var candidates []*Card
	for _, c := range s.cards {
		if c.ProjectID == projectID && c.Column == ColumnBacklog {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Position < candidates[j].Position
	})
	cp := *candidates[0]
	return &cp, nil
}

func (s *MemoryStore) StartWork(_ context.Context, cardID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.Column = ColumnInProgress
	c.AgentStatus = AgentRunning
	c.StartedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SkipToBack(_ context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	c.Column = ColumnBacklog
	c.AgentStatus = AgentIdle
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveContext(_ context.Context, cardID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	c.ContextSnapshot = text
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateAgentStatus(_ context.Context, cardID string, status AgentStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	c.AgentStatus = status
	c.FailureReason = reason
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CompleteWork(_ context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.Column = ColumnDone
	c.CompletedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *MemoryStore) UpdateCardVerification(_ context.Context, cardID string, status VerificationStatus, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return ErrNotFound
	}
	c.VerificationStatus = status
	c.VerificationOutput = output
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateCard(_ context.Context, updated Card, ifUpdatedAt *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cards[updated.ID]
	if !ok {
		return ErrNotFound
	}
	if ifUpdatedAt != nil && existing.UpdatedAt.UnixNano() != *ifUpdatedAt {
		return ErrConflict
	}
	updated.UpdatedAt = time.Now().UTC()
	s.cards[updated.ID] = &updated
	return nil
}

func (s *MemoryStore) InsertTokenUsage(_ context.Context, rec TokenUsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.usage = append(s.usage, rec)
	return nil
}

func (s *MemoryStore) LogAudit(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, rec)
	return nil
}

func (s *MemoryStore) GetAuditTrail(_ context.Context, cardID string) ([]AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AuditRecord
	for _, a := range s.audit {
		if a.EntityID == cardID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateCard(_ context.Context, c Card) (*Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ProjectID == "" {
		return nil, fmt.Errorf("card: projectID is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Column == "" {
		c.Column = ColumnBacklog
	}
	if c.AgentStatus == "" {
		c.AgentStatus = AgentIdle
	}
	if c.VerificationStatus == "" {
		c.VerificationStatus = VerificationUnverified
	}
	c.UpdatedAt = time.Now().UTC()
	cp := c
	s.cards[c.ID] = &cp
	out := cp
	return &out, nil
}
