// Package agent runs a single coding-agent child process end to end: spawn,
// stream stdio into a bounded ring buffer, enforce a wall-clock timeout,
// hand the worktree to the Verifier on a clean exit, publish on success, and
// guarantee cleanup on every exit path. Pty allocation and line-buffered
// streaming with stdin closed for EOF-sensitive CLIs, wrapped in an explicit
// state machine with timeout/cancel escalation and a liveness check before
// the hard kill signal.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/foremanhq/foreman/internal/agentlog"
	"github.com/foremanhq/foreman/internal/card"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/git"
	"github.com/foremanhq/foreman/internal/orcherr"
	"github.com/foremanhq/foreman/internal/procutil"
	"github.com/foremanhq/foreman/internal/ringlog"
	"github.com/foremanhq/foreman/internal/statusfile"
	"github.com/foremanhq/foreman/internal/verify"
	"github.com/foremanhq/foreman/internal/worktree"
)

// State is a position in the AgentSupervisor state machine.
type State string

const (
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateCompleting State = "completing"
	StateVerifying State = "verifying"
	StatePushing   State = "pushing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateBlocked   State = "blocked"
	StateIdle      State = "idle" // stopped by external cancel
)

const killGracePeriod = 5 * time.Second

// redactedEnvSubstrings are matched case-sensitively against env var names;
// any match drops that variable from the child's inherited environment so
// the supervisor's own credentials never leak into the agent it runs.
var redactedEnvSubstrings = []string{"TOKEN", "SECRET", "KEY", "PASSWORD"}

func redactedEnviron() []string {
	var out []string
	for _, kv := range os.Environ() {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		redacted := false
		for _, s := range redactedEnvSubstrings {
			if strings.Contains(name, s) {
				redacted = true
				break
			}
		}
		if !redacted {
			out = append(out, kv)
		}
	}
	return out
}

// Supervisor runs exactly one agent task for one card.
type Supervisor struct {
	CardID      string
	ProjectID   string
	AgentKind   string
	Prompt      string
	Worktree    *worktree.Handle
	Agent       config.Agent
	Gates       config.Gates
	Timeout     time.Duration
	Remote      string
	MaxLogLines int

	Store    card.Store
	Sink     event.Sink
	RepoDir  string // the source repo the worktree was created from; used for Push

	Ring *ringlog.Buffer
	log  *agentlog.Writer

	mu        sync.Mutex
	state     State
	pid       int
	startedAt time.Time
}

// New constructs a Supervisor ready to Run.
func New(cardID, projectID, agentKind, prompt string, wt *worktree.Handle, agentCfg config.Agent, gates config.Gates, timeout time.Duration, remote, repoDir string, store card.Store, sink event.Sink) *Supervisor {
	if sink == nil {
		sink = event.NopSink{}
	}
	maxLines := 500
	return &Supervisor{
		CardID: cardID, ProjectID: projectID, AgentKind: agentKind, Prompt: prompt,
		Worktree: wt, Agent: agentCfg, Gates: gates, Timeout: timeout, Remote: remote, RepoDir: repoDir,
		MaxLogLines: maxLines, Store: store, Sink: sink, Ring: ringlog.New(maxLines), state: StateStarting,
	}
}

// State reports the supervisor's current state. Safe for concurrent use.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// writeStatus persists a statusfile snapshot for this run. Best-effort: a
// write failure never affects the run itself, only an operator's ability
// to inspect it out-of-process.
func (s *Supervisor) writeStatus(st State, reason string) {
	s.mu.Lock()
	pid := s.pid
	startedAt := s.startedAt
	s.mu.Unlock()

	branch := ""
	if s.Worktree != nil {
		branch = s.Worktree.Branch
	}
	snap := statusfile.Status{
		CardID: s.CardID, ProjectID: s.ProjectID, AgentKind: s.AgentKind,
		State: string(st), BranchName: branch, Reason: reason,
		StartedAt: startedAt, PID: pid,
	}
	if st == StateCompleted || st == StateFailed || st == StateBlocked || st == StateIdle {
		snap.CompletedAt = time.Now().UTC()
	}
	_ = statusfile.Write(s.RepoDir, snap)
}

// Run drives the state machine to a terminal state: completed, blocked,
// failed, or — on external cancellation — idle. On every return path the
// child process group is no longer running and the worktree has been
// removed.
func (s *Supervisor) Run(ctx context.Context) (State, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if w, err := agentlog.Open(s.RepoDir, s.CardID); err == nil {
		s.log = w
		defer w.Close()
	}

	cmd, ptmx, err := s.startChild()
	if err != nil {
		_ = s.cleanupWorktree()
		s.setState(StateFailed)
		_ = s.Store.UpdateAgentStatus(context.Background(), s.CardID, card.AgentFailed, err.Error())
		_ = s.Store.LogAudit(context.Background(), card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "agent.failed", Details: err.Error()})
		s.writeStatus(StateFailed, err.Error())
		s.Sink.Emit(event.Event{Type: event.TypeAgentFailed, CardID: s.CardID, ProjectID: s.ProjectID, Error: err.Error()})
		return StateFailed, &orcherr.SpawnError{Err: err}
	}
	s.mu.Lock()
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.setState(StateRunning)
	s.writeStatus(StateRunning, "")
	s.Sink.Emit(event.Event{Type: event.TypeAgentSpawned, CardID: s.CardID, ProjectID: s.ProjectID, Agent: s.AgentKind})

	streamDone := make(chan struct{})
	var telemetry []card.TokenUsageRecord
	go func() {
		defer close(streamDone)
		telemetry = s.streamOutput(ptmx)
	}()

	exitErr := make(chan error, 1)
	go func() { exitErr <- cmd.Wait() }()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-exitErr:
		<-streamDone
		_ = ptmx.Close()
		for _, t := range telemetry {
			_ = s.Store.InsertTokenUsage(context.Background(), t)
		}
		if err != nil {
			s.setState(StateFailed)
			reason := err.Error()
			_ = s.Store.UpdateAgentStatus(context.Background(), s.CardID, card.AgentFailed, reason)
			_ = s.Store.LogAudit(context.Background(), card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "agent.failed", Details: reason})
			_ = s.cleanupWorktree()
			s.writeStatus(StateFailed, reason)
			s.Sink.Emit(event.Event{Type: event.TypeAgentFailed, CardID: s.CardID, ProjectID: s.ProjectID, Error: reason})
			return StateFailed, fmt.Errorf("agent exited: %w", err)
		}
		return s.finishAfterChildSuccess(ctx)

	case <-timer.C:
		minutes := int(timeout / time.Minute)
		s.escalateKill(cmd.Process.Pid)
		<-streamDone
		<-exitErr
		_ = ptmx.Close()
		reason := fmt.Sprintf("Timed out after %d minutes", minutes)
		s.setState(StateFailed)
		_ = s.Store.UpdateAgentStatus(context.Background(), s.CardID, card.AgentFailed, reason)
		_ = s.Store.LogAudit(context.Background(), card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "agent.timeout", Details: reason})
		_ = s.cleanupWorktree()
		s.writeStatus(StateFailed, reason)
		s.Sink.Emit(event.Event{Type: event.TypeAgentTimeout, CardID: s.CardID, ProjectID: s.ProjectID, Error: reason})
		s.Sink.Emit(event.Event{Type: event.TypeAgentFailed, CardID: s.CardID, ProjectID: s.ProjectID, Error: reason})
		return StateFailed, &orcherr.TimeoutError{Minutes: minutes}

	case <-runCtx.Done():
		return s.handleCancel(cmd, ptmx, streamDone, exitErr)
	}
}

// handleCancel implements the external-stop contract: persist a context
// snapshot of the log tail, mark the card idle, kill the process group, and
// remove the worktree — regardless of which suspension point Run was
// parked at.
func (s *Supervisor) handleCancel(cmd *exec.Cmd, ptmx *os.File, streamDone chan struct{}, exitErr chan error) (State, error) {
	s.escalateKill(cmd.Process.Pid)
	<-streamDone
	<-exitErr
	_ = ptmx.Close()

	tail := strings.Join(s.Ring.Tail(50), "\n")
	snapshot := tail
	if s.Worktree != nil {
		snapshot = card.ContextWithBranch(s.Worktree.Branch, tail)
	}
	_ = s.Store.SaveContext(context.Background(), s.CardID, snapshot)
	_ = s.Store.UpdateAgentStatus(context.Background(), s.CardID, card.AgentIdle, "")
	_ = s.Store.LogAudit(context.Background(), card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "agent.stopped"})
	_ = s.cleanupWorktree()

	s.setState(StateIdle)
	s.writeStatus(StateIdle, "")
	s.Sink.Emit(event.Event{Type: event.TypeAgentStopped, CardID: s.CardID, ProjectID: s.ProjectID})
	return StateIdle, nil
}

// finishAfterChildSuccess runs the completing → verifying → pushing tail of
// the state machine once the child has exited 0.
func (s *Supervisor) finishAfterChildSuccess(ctx context.Context) (State, error) {
	s.setState(StateCompleting)
	s.setState(StateVerifying)

	s.Sink.Emit(event.Event{Type: event.TypeVerificationStarted, CardID: s.CardID, ProjectID: s.ProjectID, Gate: "branch"})

	res := verify.Run(ctx, s.Worktree.Path, s.Gates)
	if !res.Passed {
		reason := fmt.Sprintf("verification failed: %s", res.Failed)
		_ = s.Store.UpdateCardVerification(ctx, s.CardID, card.VerificationBranchFailed, res.Output)
		_ = s.Store.UpdateAgentStatus(ctx, s.CardID, card.AgentBlocked, reason)
		_ = s.Store.LogAudit(ctx, card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "verification.branch_failed", Details: res.Output})
		s.setState(StateBlocked)
		s.writeStatus(StateBlocked, reason)
		s.Sink.Emit(event.Event{Type: event.TypeVerificationFailed, CardID: s.CardID, ProjectID: s.ProjectID, Gate: "branch", Output: res.Output})
		_ = s.cleanupWorktree()
		return StateBlocked, &orcherr.VerificationError{Output: res.Output}
	}

	_ = s.Store.UpdateCardVerification(ctx, s.CardID, card.VerificationBranchVerified, res.Output)
	_ = s.Store.LogAudit(ctx, card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "verification.branch_passed", Details: res.Output})
	_ = s.Store.SaveContext(ctx, s.CardID, card.ContextWithBranch(s.Worktree.Branch, strings.Join(s.Ring.Tail(50), "\n")))
	s.Sink.Emit(event.Event{Type: event.TypeVerificationPassed, CardID: s.CardID, ProjectID: s.ProjectID, Gate: "branch"})

	s.setState(StatePushing)
	repo := git.NewRepo(s.Worktree.Path)
	remote := s.Remote
	if remote == "" {
		remote = "origin"
	}
	if err := repo.Push(remote, s.Worktree.Branch); err != nil {
		reason := fmt.Sprintf("push failed: %s", err)
		_ = s.Store.UpdateAgentStatus(ctx, s.CardID, card.AgentBlocked, reason)
		_ = s.Store.LogAudit(ctx, card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "push.failed", Details: err.Error()})
		s.setState(StateBlocked)
		s.writeStatus(StateBlocked, reason)
		_ = s.cleanupWorktree()
		return StateBlocked, &orcherr.PushError{Err: err}
	}

	_ = s.Store.UpdateAgentStatus(ctx, s.CardID, card.AgentCompleted, "")
	_ = s.Store.LogAudit(ctx, card.AuditRecord{EntityType: "card", EntityID: s.CardID, Action: "agent.completed"})
	s.setState(StateCompleted)
	s.writeStatus(StateCompleted, "")
	s.Sink.Emit(event.Event{Type: event.TypeAgentCompleted, CardID: s.CardID, ProjectID: s.ProjectID})
	_ = s.cleanupWorktree()
	return StateCompleted, nil
}

func (s *Supervisor) cleanupWorktree() error {
	m := worktree.NewManager(s.RepoDir, "", "")
	return m.Remove(s.Worktree)
}

// startChild spawns the agent CLI with a PTY attached to stdout/stderr and
// stdin closed immediately after spawn (some agent CLIs block on an open
// stdin). The process runs in its own process group so the full tree can be
// signaled at once.
func (s *Supervisor) startChild() (*exec.Cmd, *os.File, error) {
	contextFile := s.Worktree.Path + "/.foreman-context"
	if err := os.WriteFile(contextFile, []byte(s.Prompt), 0644); err != nil {
		return nil, nil, fmt.Errorf("writing context file: %w", err)
	}

	args := append(append([]string{}, s.Agent.Args...), contextFile)
	cmd := exec.Command(s.Agent.Command, args...)
	cmd.Dir = s.Worktree.Path
	cmd.Env = redactedEnviron()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("opening pty: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		ptmx.Close()
		pts.Close()
		return nil, nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	cmd.Stdin = r
	cmd.Stdout = pts
	cmd.Stderr = pts

	if err := cmd.Start(); err != nil {
		ptmx.Close()
		pts.Close()
		r.Close()
		w.Close()
		return nil, nil, fmt.Errorf("starting agent: %w", err)
	}
	pts.Close()
	r.Close()
	w.Close() // close immediately: child sees EOF on stdin right away

	return cmd, ptmx, nil
}

// streamOutput copies child PTY output into the ring buffer line by line,
// retaining partial tails across reads, and returns any telemetry records
// recognized along the way.
func (s *Supervisor) streamOutput(ptmx *os.File) []card.TokenUsageRecord {
	var telemetry []card.TokenUsageRecord
	var carry bytes.Buffer
	buf := make([]byte, 4096)

	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			carry.Write(buf[:n])
			for {
				line, ok := consumeLine(&carry)
				if !ok {
					break
				}
				s.Ring.Append(line)
				s.log.Append(line)
				s.Sink.Emit(event.Event{Type: event.TypeAgentLog, CardID: s.CardID, ProjectID: s.ProjectID, Line: line})
				if rec, ok := parseTelemetry(line, s.CardID, s.ProjectID, s.AgentKind); ok {
					telemetry = append(telemetry, rec)
				}
			}
		}
		if err != nil {
			return telemetry
		}
	}
}

// consumeLine pulls one complete (newline-terminated) line off the front of
// buf, leaving any partial tail in place for the next read.
func consumeLine(buf *bytes.Buffer) (string, bool) {
	b := buf.Bytes()
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(b[:idx])
	buf.Next(idx + 1)
	return strings.TrimRight(line, "\r"), true
}

// telemetryLine is the recognized shape: one JSON object per line with
// type=="result" and a nested modelUsage object. Anything else is an
// opaque log line.
type telemetryLine struct {
	Type       string `json:"type"`
	ModelUsage *struct {
		InputTokens         int64   `json:"inputTokens"`
		OutputTokens        int64   `json:"outputTokens"`
		CacheReadTokens     int64   `json:"cacheReadTokens"`
		CacheCreationTokens int64   `json:"cacheCreationTokens"`
		CostUSD             float64 `json:"costUsd"`
	} `json:"modelUsage"`
}

func parseTelemetry(line, cardID, projectID, agentKind string) (card.TokenUsageRecord, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return card.TokenUsageRecord{}, false
	}
	var t telemetryLine
	if err := json.NewDecoder(strings.NewReader(trimmed)).Decode(&t); err != nil {
		return card.TokenUsageRecord{}, false
	}
	if t.Type != "result" || t.ModelUsage == nil {
		return card.TokenUsageRecord{}, false
	}
	return card.TokenUsageRecord{
		CardID: cardID, ProjectID: projectID, Agent: agentKind,
		Input: t.ModelUsage.InputTokens, Output: t.ModelUsage.OutputTokens,
		CacheRead: t.ModelUsage.CacheReadTokens, CacheWrite: t.ModelUsage.CacheCreationTokens,
		CostUSD: t.ModelUsage.CostUSD,
	}, true
}

// escalateKill sends a soft signal to the whole process group, then a hard
// signal after a grace period if the group is still alive.
func (s *Supervisor) escalateKill(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	deadline := time.Now().Add(killGracePeriod)
	for time.Now().Before(deadline) {
		if !procutil.Alive(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
