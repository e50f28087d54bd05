// Package notify supplies the operator notifier collaborator used by the
// orchestration subsystem: a fire-and-forget side channel for
// human-readable spawn, startup-reconciliation and merge pass/fail
// messages, printed as plain status
// lines the way runDaemon reports its own startup and poll errors. A real
// deployment would inject a Slack/webhook notifier instead; that wiring is
// left to the caller.
package notify

import (
	"fmt"
	"io"
	"time"
)

// Notifier sends a short human-readable message to an operator side
// channel. Delivery is best-effort and must never block the caller for
// long or propagate an error back into the orchestration subsystem.
type Notifier interface {
	Notify(message string)
}

// StdoutNotifier is the reference implementation: it timestamps and writes
// each message to the given writer as a plain status line rather than a
// structured log record.
type StdoutNotifier struct {
	w io.Writer
}

// NewStdout returns a StdoutNotifier writing to w.
func NewStdout(w io.Writer) *StdoutNotifier {
	return &StdoutNotifier{w: w}
}

func (n *StdoutNotifier) Notify(message string) {
	fmt.Fprintf(n.w, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), message)
}

// NopNotifier discards every message. Useful in tests exercising a
// component that requires a Notifier but asserts nothing about its output.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}
