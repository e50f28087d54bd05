// Package orchestrator owns the in-memory registry of live AgentRuns and the
// admission sequence that gates new ones: a mutex-guarded map tracking
// per-unit-of-work state, extended from a run-to-completion batch model into
// a long-lived registry supporting concurrent spawn/stop/shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/foremanhq/foreman/internal/agent"
	"github.com/foremanhq/foreman/internal/card"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/orcherr"
	"github.com/foremanhq/foreman/internal/worktree"
)

// AgentRun is the registry's view of one in-flight (or just-finished) agent.
type AgentRun struct {
	CardID      string
	ProjectID   string
	AgentKind   string
	BranchName  string
	WorktreeDir string
	StartedAt   time.Time

	sup    *agent.Supervisor
	cancel context.CancelFunc
	done   chan struct{}
}

// State reports the run's current AgentSupervisor state.
func (r *AgentRun) State() agent.State { return r.sup.State() }

// Orchestrator serializes admission and owns the live-run registry.
type Orchestrator struct {
	mu     sync.Mutex
	agents map[string]*AgentRun

	store   card.Store
	sink    event.Sink
	cfg     *config.Config
	repoDir string
}

// New constructs an Orchestrator bound to a store, config, and repo checkout.
func New(store card.Store, sink event.Sink, cfg *config.Config, repoDir string) *Orchestrator {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Orchestrator{agents: make(map[string]*AgentRun), store: store, sink: sink, cfg: cfg, repoDir: repoDir}
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// deriveBranchName builds "agent/<agentKind>/<slug>-<id8>" from a card title.
func deriveBranchName(agentKind, title, cardID string) string {
	slug := strings.ToLower(title)
	slug = slugNonAlnum.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 50 {
		slug = slug[:50]
	}
	id8 := cardID
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	return fmt.Sprintf("agent/%s/%s-%s", agentKind, slug, id8)
}

func (o *Orchestrator) runningCount() int {
	n := 0
	for _, r := range o.agents {
		switch r.State() {
		case agent.StateStarting, agent.StateRunning, agent.StateCompleting, agent.StateVerifying, agent.StatePushing:
			n++
		}
	}
	return n
}

func (o *Orchestrator) projectHasRunning(projectID string) bool {
	for _, r := range o.agents {
		if r.ProjectID != projectID {
			continue
		}
		switch r.State() {
		case agent.StateStarting, agent.StateRunning, agent.StateCompleting, agent.StateVerifying, agent.StatePushing:
			return true
		}
	}
	return false
}

func (o *Orchestrator) cardLive(cardID string) bool {
	r, ok := o.agents[cardID]
	if !ok {
		return false
	}
	switch r.State() {
	case agent.StateCompleted, agent.StateFailed, agent.StateBlocked, agent.StateIdle:
		return false
	default:
		return true
	}
}

// Spawn runs the full admission sequence for a card and, on success,
// launches its AgentSupervisor as a detached goroutine.
func (o *Orchestrator) Spawn(ctx context.Context, cardID, agentKind string, prompt string) error {
	o.mu.Lock()

	var reasons []string
	// A negative value never reaches here (config.Validate rejects it), but
	// an explicit zero is a legitimate configuration meaning "admit
	// nothing" and must not be coalesced into the default — only a config
	// that never set the field at all (and was loaded through config.Load,
	// which applies DefaultMaxConcurrent itself) reads as zero by accident.
	maxConcurrent := o.cfg.Settings.MaxConcurrent
	if maxConcurrent < 0 {
		maxConcurrent = config.DefaultMaxConcurrent
	}
	if o.runningCount() >= maxConcurrent {
		reasons = append(reasons, "global concurrency limit reached")
	}

	c, err := o.store.GetCard(ctx, cardID)
	if err != nil {
		o.mu.Unlock()
		return &orcherr.AdmissionError{Reasons: []string{fmt.Sprintf("card lookup failed: %s", err)}}
	}

	if o.projectHasRunning(c.ProjectID) {
		reasons = append(reasons, "project already has a running agent")
	}
	if o.cardLive(cardID) {
		reasons = append(reasons, "card already has a live agent")
	}
	if _, err := exec.LookPath(o.cfg.Agents[agentKind].Command); err != nil {
		reasons = append(reasons, fmt.Sprintf("agent command %q not resolvable", o.cfg.Agents[agentKind].Command))
	}

	if len(reasons) > 0 {
		o.mu.Unlock()
		return &orcherr.AdmissionError{Reasons: reasons}
	}

	branch := deriveBranchName(agentKind, c.Title, cardID)

	override := o.cfg.OverrideFor(c.ProjectID)
	timeout := o.cfg.Settings.AgentTimeout.Duration()
	if override.AgentTimeout > 0 {
		timeout = override.AgentTimeout.Duration()
	}
	if timeout <= 0 {
		timeout = config.DefaultAgentTimeout
	}

	wtMgr := worktree.NewManager(o.repoDir, o.cfg.Settings.BranchPrefix, o.cfg.Settings.IntegrationBranch)
	wt, err := wtMgr.CreateBranch(cardID, branch)
	if err != nil {
		o.mu.Unlock()
		return err
	}

	linkedDirs := o.cfg.Settings.LinkedDirs
	if linkedDirs == nil {
		linkedDirs = config.DefaultLinkedDirs
	}
	for _, linkErr := range worktree.LinkSharedDependencies(o.repoDir, wt.Path, linkedDirs) {
		o.sink.Emit(event.Event{Type: event.TypeAgentLog, CardID: cardID, ProjectID: c.ProjectID, Line: fmt.Sprintf("shared-dependency link skipped: %s", linkErr)})
	}

	if err := o.store.StartWork(ctx, cardID, agentKind); err != nil {
		_ = wtMgr.Remove(wt)
		o.mu.Unlock()
		return &orcherr.InternalError{Err: err}
	}

	sup := agent.New(cardID, c.ProjectID, agentKind, prompt, wt, o.cfg.Agents[agentKind], o.cfg.Gates, timeout, o.cfg.Settings.Remote, o.repoDir, o.store, o.sink)
	runCtx, cancel := context.WithCancel(context.Background())
	run := &AgentRun{
		CardID: cardID, ProjectID: c.ProjectID, AgentKind: agentKind,
		BranchName: branch, WorktreeDir: wt.Path, StartedAt: time.Now().UTC(),
		sup: sup, cancel: cancel, done: make(chan struct{}),
	}
	o.agents[cardID] = run
	_ = o.store.LogAudit(ctx, card.AuditRecord{EntityType: "card", EntityID: cardID, Action: "agent.spawned"})

	o.mu.Unlock()

	go func() {
		defer close(run.done)
		_, _ = sup.Run(runCtx)
	}()

	return nil
}

// StopAgent cancels a card's run. Stopping a run that has already stopped
// just cancels its context again and returns nil; a card with no run in the
// registry returns an error.
func (o *Orchestrator) StopAgent(cardID string) error {
	o.mu.Lock()
	run, ok := o.agents[cardID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: no agent run for card %s", cardID)
	}
	run.cancel()
	return nil
}

// GetRunningAgents returns a snapshot of the live runs in the registry
// (starting through pushing) with process/task handles redacted; runs that
// have reached a terminal state are left out.
func (o *Orchestrator) GetRunningAgents() []AgentRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]AgentRun, 0, len(o.agents))
	for _, r := range o.agents {
		switch r.State() {
		case agent.StateStarting, agent.StateRunning, agent.StateCompleting, agent.StateVerifying, agent.StatePushing:
		default:
			continue
		}
		out = append(out, AgentRun{
			CardID: r.CardID, ProjectID: r.ProjectID, AgentKind: r.AgentKind,
			BranchName: r.BranchName, WorktreeDir: r.WorktreeDir, StartedAt: r.StartedAt,
		})
	}
	return out
}

// GetAgentLogs returns the last `limit` ring-buffer lines for a card's run,
// or nil if no run is known for it.
func (o *Orchestrator) GetAgentLogs(cardID string, limit int) []string {
	o.mu.Lock()
	run, ok := o.agents[cardID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return run.sup.Ring.Tail(limit)
}

// ShutdownAll cancels every live run and waits up to the given budget for
// them to drain, force-terminating (via their own escalation path, already
// in flight from cancel) any stragglers beyond that budget.
func (o *Orchestrator) ShutdownAll(budget time.Duration) {
	o.mu.Lock()
	runs := make([]*AgentRun, 0, len(o.agents))
	for _, r := range o.agents {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}

	deadline := time.After(budget)
	for _, r := range runs {
		select {
		case <-r.done:
		case <-deadline:
			return
		}
	}
}
