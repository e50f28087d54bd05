package card

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a card or project does not exist.
var ErrNotFound = errors.New("card: not found")

// ErrConflict is returned by UpdateCard when the caller's ifUpdatedAt does
// not match the current row — the optimistic-concurrency contract named for
// external PUT-style writers.
var ErrConflict = errors.New("card: conflicting update")

// Store is the persistence contract the orchestrator, heartbeat, and agent
// supervisor consume. A real implementation backs this with a database;
// MemoryStore here is a reference implementation for tests and the CLI's
// standalone `run` mode.
type Store interface {
	GetCard(ctx context.Context, cardID string) (*Card, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)
	ListActiveProjects(ctx context.Context) ([]Project, error)
	GetBoard(ctx context.Context, projectID string) (*Board, error)
	GetNextCard(ctx context.Context, projectID string) (*Card, error)

	StartWork(ctx context.Context, cardID, agentKind string) error
	SkipToBack(ctx context.Context, cardID string) error
	SaveContext(ctx context.Context, cardID, text string) error
	UpdateAgentStatus(ctx context.Context, cardID string, status AgentStatus, reason string) error
	CompleteWork(ctx context.Context, cardID string) error
	UpdateCardVerification(ctx context.Context, cardID string, status VerificationStatus, output string) error

	// UpdateCard applies a full replacement subject to optimistic
	// concurrency: if ifUpdatedAt is non-nil and does not match the
	// card's current UpdatedAt, ErrConflict is returned and no write
	// happens.
	UpdateCard(ctx context.Context, updated Card, ifUpdatedAt *int64) error

	InsertTokenUsage(ctx context.Context, rec TokenUsageRecord) error
	LogAudit(ctx context.Context, rec AuditRecord) error
	GetAuditTrail(ctx context.Context, cardID string) ([]AuditRecord, error)

	// CreateCard is a convenience used by task-brief intake. CardStore CRUD
	// is otherwise an external contract, but the reference store must still
	// support creating a backlog card from submitted text.
	CreateCard(ctx context.Context, c Card) (*Card, error)
}
