// Package heartbeat runs the two scheduled ticks that drive card movement
// without an external trigger: the builder phase (reclaim stuck cards, spawn
// new agents up to the concurrency cap) and the synthesizer/merge-gate phase
// (promote verified branches into an integration branch), each on its own
// independent cadence (builder every 10m, synthesizer every 30m).
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/foremanhq/foreman/internal/card"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/intake"
	"github.com/foremanhq/foreman/internal/orchestrator"
	"github.com/foremanhq/foreman/internal/prompt"
)

// Notifier is the operator side-channel the heartbeat notifies on spawn and
// startup reconciliation.
type Notifier interface {
	Notify(message string)
}

// Heartbeat owns the builder-phase ticker and startup reconciliation.
type Heartbeat struct {
	store   card.Store
	orch    *orchestrator.Orchestrator
	sink    event.Sink
	notify  Notifier
	cfg     *config.Config
	repoDir string
}

// New constructs a Heartbeat bound to its collaborators. repoDir is used
// only to drain cross-process task-brief files dropped by `foreman submit`
// (see internal/intake) — an empty repoDir simply means no brief directory
// is ever found, which is fine for tests that submit briefs directly via
// SubmitTaskBrief.
func New(store card.Store, orch *orchestrator.Orchestrator, sink event.Sink, notify Notifier, cfg *config.Config, repoDir string) *Heartbeat {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Heartbeat{store: store, orch: orch, sink: sink, notify: notify, cfg: cfg, repoDir: repoDir}
}

// Reconcile runs once at process startup, before the ticker is scheduled:
// any card left running or blocked by a prior process instance is returned
// to backlog, since this process has no in-memory AgentRun for it.
func (h *Heartbeat) Reconcile(ctx context.Context) error {
	projects, err := h.store.ListActiveProjects(ctx)
	if err != nil {
		return err
	}
	reclaimed := 0
	for _, p := range projects {
		board, err := h.store.GetBoard(ctx, p.ID)
		if err != nil {
			continue
		}
		for _, c := range board.InProgress {
			if c.AgentStatus == card.AgentRunning || c.AgentStatus == card.AgentBlocked {
				_ = h.store.SkipToBack(ctx, c.ID)
				reclaimed++
			}
		}
	}
	if h.notify != nil && reclaimed > 0 {
		h.notify.Notify(fmt.Sprintf("startup reconciliation: reclaimed %d card(s) from a prior run", reclaimed))
	}
	return nil
}

// Run blocks, ticking at the configured cadence until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	interval := h.cfg.Settings.TickInterval.Duration()
	if interval <= 0 {
		interval = config.DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs one pass of the builder-phase algorithm: reclaim stuck cards,
// then spawn up to the concurrency cap across projects without a running
// agent.
func (h *Heartbeat) Tick(ctx context.Context) {
	h.drainTaskBriefs(ctx)

	projects, err := h.store.ListActiveProjects(ctx)
	if err != nil {
		h.sink.Emit(event.Event{Type: event.TypeHeartbeatTick, Error: err.Error()})
		return
	}

	running := h.orch.GetRunningAgents()
	runningByProject := make(map[string]bool, len(running))
	for _, r := range running {
		runningByProject[r.ProjectID] = true
	}
	spawnedThisTick := 0

	// Zero is a legitimate "admit nothing" configuration (see
	// orchestrator.Spawn's matching comment); only negative falls back.
	maxConcurrent := h.cfg.Settings.MaxConcurrent
	if maxConcurrent < 0 {
		maxConcurrent = config.DefaultMaxConcurrent
	}
	blockedRetry := h.cfg.Settings.BlockedRetry.Duration()
	if blockedRetry <= 0 {
		blockedRetry = config.DefaultBlockedRetry
	}

	for _, p := range projects {
		if runningByProject[p.ID] {
			continue
		}

		board, err := h.store.GetBoard(ctx, p.ID)
		if err != nil {
			continue
		}

		for _, c := range board.InProgress {
			if c.AgentStatus == card.AgentBlocked && time.Since(c.UpdatedAt) > blockedRetry {
				_ = h.store.SkipToBack(ctx, c.ID)
				h.sink.Emit(event.Event{Type: event.TypeHeartbeatRetry, CardID: c.ID, ProjectID: p.ID})
			}
		}

		next, err := h.store.GetNextCard(ctx, p.ID)
		if err != nil || next == nil {
			continue
		}

		if len(running)+spawnedThisTick >= maxConcurrent {
			continue
		}

		assembled := prompt.Assemble(ctx, h.store, *next, p)
		if err := h.orch.Spawn(ctx, next.ID, h.defaultAgentKind(), assembled); err != nil {
			h.sink.Emit(event.Event{Type: event.TypeHeartbeatError, CardID: next.ID, ProjectID: p.ID, Error: err.Error()})
			continue
		}
		spawnedThisTick++
		h.sink.Emit(event.Event{Type: event.TypeHeartbeatSpawned, CardID: next.ID, ProjectID: p.ID})
		if h.notify != nil {
			h.notify.Notify(fmt.Sprintf("spawned agent for card %s (project %s)", next.ID, p.ID))
		}
	}

	if spawnedThisTick == 0 {
		h.sink.Emit(event.Event{Type: event.TypeHeartbeatIdle})
	}
	h.sink.Emit(event.Event{Type: event.TypeHeartbeatTick, Agents: len(running) + spawnedThisTick})
}

// drainTaskBriefs turns every brief file left by a `foreman submit`
// invocation in a separate process into a backlog card, removing each file
// once it has been converted. A brief's own Immediate flag doesn't trigger
// anything further here: draining already happens at the top of this same
// Tick, so the card it creates is immediately eligible for the spawn pass
// below, same tick.
func (h *Heartbeat) drainTaskBriefs(ctx context.Context) {
	if h.repoDir == "" {
		return
	}
	pending, err := intake.ReadPending(h.repoDir)
	if err != nil || len(pending) == 0 {
		return
	}
	for _, p := range pending {
		created, err := h.SubmitTaskBrief(ctx, p.Brief.Text, p.Brief.ProjectID, false, p.Brief.Priority)
		if err != nil {
			h.sink.Emit(event.Event{Type: event.TypeHeartbeatError, Error: fmt.Sprintf("task brief intake: %s", err)})
			continue
		}
		_ = intake.Remove(p.Path)
		h.sink.Emit(event.Event{Type: event.TypeHeartbeatCardCreated, CardID: created.ID, ProjectID: created.ProjectID})
	}
}

// SubmitTaskBrief implements task-brief intake: derive a title from the
// first sentence, pick a project by substring match (first match wins,
// falling back to the first active project), and create a backlog card.
func (h *Heartbeat) SubmitTaskBrief(ctx context.Context, text string, projectID string, immediate bool, priority int) (*card.Card, error) {
	title := firstSentence(text)

	var targetProject string
	if projectID != "" {
		targetProject = projectID
	} else {
		projects, err := h.store.ListActiveProjects(ctx)
		if err != nil {
			return nil, err
		}
		if len(projects) == 0 {
			return nil, fmt.Errorf("heartbeat: no active projects to assign a task brief to")
		}
		targetProject = projects[0].ID
		lower := strings.ToLower(text)
		for _, p := range projects {
			if strings.Contains(lower, strings.ToLower(p.Name)) {
				targetProject = p.ID
				break
			}
		}
	}

	created, err := h.store.CreateCard(ctx, card.Card{
		ProjectID:   targetProject,
		Title:       title,
		Description: text,
		Priority:    priority,
	})
	if err != nil {
		return nil, err
	}

	if immediate {
		h.Tick(ctx)
	}
	return created, nil
}

// defaultAgentKind picks the agent CLI the heartbeat spawns cards with when
// a card doesn't name one itself: the configured agent whose name sorts
// first, giving deterministic behavior across ticks.
func (h *Heartbeat) defaultAgentKind() string {
	var kind string
	for name := range h.cfg.Agents {
		if kind == "" || name < kind {
			kind = name
		}
	}
	return kind
}

const maxTitleLen = 80

// firstSentence derives a title from the first sentence of text, capped at
// 80 chars with an ellipsis.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	end := len(text)
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(text, sep); i >= 0 && i < end {
			end = i
		}
	}
	title := text[:end]
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen-1]) + "…"
	}
	return title
}
