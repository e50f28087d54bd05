package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/foremanhq/foreman/internal/card"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/git"
	"github.com/foremanhq/foreman/internal/verify"
	"github.com/foremanhq/foreman/internal/worktree"
)

// Synthesizer runs the merge-gate tick: cards a branch has already passed
// verification on get merged into the integration branch, re-verified there
// together with whatever else has landed since, and promoted to
// merge_verified or bounced back to merge_failed. Reuses the sequential gate
// runner against a shared merge worktree instead of the card's own, since
// the whole point of this gate is to catch what two branches do to each
// other.
type Synthesizer struct {
	store   card.Store
	sink    event.Sink
	notify  Notifier
	cfg     *config.Config
	repoDir string
}

// NewSynthesizer constructs a Synthesizer bound to its collaborators.
func NewSynthesizer(store card.Store, sink event.Sink, notify Notifier, cfg *config.Config, repoDir string) *Synthesizer {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Synthesizer{store: store, sink: sink, notify: notify, cfg: cfg, repoDir: repoDir}
}

// Run blocks, ticking at the configured synthesize cadence until ctx is
// cancelled.
func (sy *Synthesizer) Run(ctx context.Context) {
	interval := sy.cfg.Settings.SynthesizeInterval.Duration()
	if interval <= 0 {
		interval = config.DefaultSynthesizeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sy.Tick(ctx)
		}
	}
}

// Tick merges every branch_verified card across active projects into the
// integration branch, one at a time — a shared merge worktree means two
// merges at once would race on the same checkout.
func (sy *Synthesizer) Tick(ctx context.Context) {
	sy.sink.Emit(event.Event{Type: event.TypeSynthesizeTick})

	projects, err := sy.store.ListActiveProjects(ctx)
	if err != nil {
		sy.sink.Emit(event.Event{Type: event.TypeHeartbeatError, Error: err.Error()})
		return
	}

	for _, p := range projects {
		board, err := sy.store.GetBoard(ctx, p.ID)
		if err != nil {
			continue
		}
		for _, c := range allCards(board) {
			if c.VerificationStatus != card.VerificationBranchVerified {
				continue
			}
			sy.mergeCard(ctx, p, c)
		}
	}
}

func allCards(board *card.Board) []card.Card {
	out := make([]card.Card, 0, len(board.Backlog)+len(board.InProgress)+len(board.Done))
	out = append(out, board.Backlog...)
	out = append(out, board.InProgress...)
	out = append(out, board.Done...)
	return out
}

// mergeCard runs one card through the merge gate: recover its branch name,
// merge it into a dedicated integration worktree, re-verify, and either
// push + promote or reset + mark merge_failed. The worktree is always torn
// down afterward regardless of outcome.
func (sy *Synthesizer) mergeCard(ctx context.Context, p card.Project, c card.Card) {
	branch, ok := card.BranchFromContext(c.ContextSnapshot)
	if !ok {
		sy.sink.Emit(event.Event{Type: event.TypeHeartbeatError, CardID: c.ID, ProjectID: p.ID, Error: "no branch recoverable from context snapshot"})
		return
	}

	wtMgr := worktree.NewManager(sy.repoDir, sy.cfg.Settings.BranchPrefix, sy.cfg.Settings.IntegrationBranch)
	handle, err := wtMgr.CreateIntegrationWorktree()
	if err != nil {
		sy.sink.Emit(event.Event{Type: event.TypeHeartbeatError, CardID: c.ID, ProjectID: p.ID, Error: err.Error()})
		return
	}
	defer func() { _ = wtMgr.Remove(handle) }()

	repo := git.NewRepo(handle.Path)
	preMergeHead, err := repo.HeadCommit(handle.Branch)
	if err != nil {
		sy.sink.Emit(event.Event{Type: event.TypeHeartbeatError, CardID: c.ID, ProjectID: p.ID, Error: err.Error()})
		return
	}

	sy.sink.Emit(event.Event{Type: event.TypeVerificationStarted, CardID: c.ID, ProjectID: p.ID, Gate: "merge"})

	if err := repo.MergeNoFF(branch, fmt.Sprintf("Merge %s into %s", branch, handle.Branch)); err != nil {
		sy.failMerge(ctx, p, c, fmt.Sprintf("merge conflict: %s", err))
		return
	}

	res := verify.Run(ctx, handle.Path, sy.cfg.Gates)
	if !res.Passed {
		_ = repo.ResetHard(preMergeHead)
		sy.failMerge(ctx, p, c, fmt.Sprintf("merge-gate verification failed: %s", res.Failed))
		return
	}

	remote := sy.cfg.Settings.Remote
	if remote == "" {
		remote = config.DefaultRemote
	}
	if err := repo.PushHead(remote, handle.Branch); err != nil {
		_ = repo.ResetHard(preMergeHead)
		sy.failMerge(ctx, p, c, fmt.Sprintf("push of %s failed: %s", handle.Branch, err))
		return
	}

	_ = sy.store.UpdateCardVerification(ctx, c.ID, card.VerificationMergeVerified, res.Output)
	_ = sy.store.CompleteWork(ctx, c.ID)
	_ = sy.store.LogAudit(ctx, card.AuditRecord{EntityType: "card", EntityID: c.ID, Action: "verification.merge_passed", Details: res.Output})
	sy.sink.Emit(event.Event{Type: event.TypeVerificationPassed, CardID: c.ID, ProjectID: p.ID, Gate: "merge"})
	if sy.notify != nil {
		sy.notify.Notify(fmt.Sprintf("merged %s into %s for card %s", branch, handle.Branch, c.ID))
	}
}

func (sy *Synthesizer) failMerge(ctx context.Context, p card.Project, c card.Card, reason string) {
	_ = sy.store.UpdateCardVerification(ctx, c.ID, card.VerificationMergeFailed, reason)
	_ = sy.store.UpdateAgentStatus(ctx, c.ID, card.AgentBlocked, reason)
	_ = sy.store.LogAudit(ctx, card.AuditRecord{EntityType: "card", EntityID: c.ID, Action: "verification.merge_failed", Details: reason})
	sy.sink.Emit(event.Event{Type: event.TypeVerificationFailed, CardID: c.ID, ProjectID: p.ID, Gate: "merge", Error: reason})
	if sy.notify != nil {
		sy.notify.Notify(fmt.Sprintf("merge gate failed for card %s: %s", c.ID, reason))
	}
}
