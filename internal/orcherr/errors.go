// Package orcherr defines the error taxonomy shared across the
// orchestration subsystem: admission failures, worktree failures, spawn
// failures, timeouts, verification failures, push failures, and catch-all
// internal errors. Each recovery path is documented on the type itself.
package orcherr

import "fmt"

// AdmissionError reports one or more Gate-0 violations. Recovery: return to
// the caller; the card is unchanged and no side effects were made.
type AdmissionError struct {
	Reasons []string
}

func (e *AdmissionError) Error() string {
	if len(e.Reasons) == 1 {
		return fmt.Sprintf("admission denied: %s", e.Reasons[0])
	}
	return fmt.Sprintf("admission denied (%d reasons): %v", len(e.Reasons), e.Reasons)
}

// WorktreeError reports that neither creating a new branch nor attaching to
// an existing one succeeded. Recovery: return to the caller; the card is
// unchanged.
type WorktreeError struct {
	Op  string
	Err error
}

func (e *WorktreeError) Error() string {
	return fmt.Sprintf("worktree %s: %s", e.Op, e.Err)
}

func (e *WorktreeError) Unwrap() error { return e.Err }

// SpawnError reports that the child agent process could not be launched.
// Recovery: the AgentRun transitions to failed, the worktree is cleaned,
// and the card is set to failed with this reason.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn failed: %s", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports that an agent exceeded its budget. Recovery: the
// cancel path executes and the card is set to failed with the reason
// "Timed out after N minutes" (the same text as Error).
type TimeoutError struct {
	Minutes int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timed out after %d minutes", e.Minutes)
}

// VerificationError reports a branch-gate failure. Recovery: agentStatus
// becomes blocked, verificationStatus becomes branch_failed, and captured
// output is persisted; the card is not auto-retried within this run.
type VerificationError struct {
	Output string
}

func (e *VerificationError) Error() string { return "verification failed" }

// PushError reports that the remote rejected the publish. Recovery:
// agentStatus becomes blocked but verificationStatus is left as
// branch_verified — the work is still good, only publication failed.
type PushError struct {
	Err error
}

func (e *PushError) Error() string { return fmt.Sprintf("push failed: %s", e.Err) }
func (e *PushError) Unwrap() error { return e.Err }

// InternalError is the catch-all for a bug inside the supervisor itself.
// Recovery: the card fails with the wrapped error's message; the worktree
// is cleaned regardless.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string { return fmt.Sprintf("internal error: %s", e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }
