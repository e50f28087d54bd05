package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/foremanhq/foreman/internal/broadcast"
	"github.com/foremanhq/foreman/internal/card"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/heartbeat"
	"github.com/foremanhq/foreman/internal/intake"
	"github.com/foremanhq/foreman/internal/notify"
	"github.com/foremanhq/foreman/internal/orchestrator"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <config-file>",
	Short: "Run the foreman daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndValidateConfig(args[0])
		if err != nil {
			return err
		}

		repoDir, err := resolveRepo(args[0])
		if err != nil {
			return err
		}

		return runDaemon(cfg, repoDir)
	},
}

// runDaemon wires the card store, orchestrator, broadcaster, and both
// heartbeat tickers together and blocks until SIGINT/SIGTERM.
func runDaemon(cfg *config.Config, repoDir string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	store := card.NewMemoryStore()
	seedStore(ctx, store, cfg)

	// The standalone `run` mode has no WebSocket layer to fan events out
	// to, but the Broadcaster itself still does useful work here: wire it
	// with a single stdout-tailing subscriber so agent log/verification/
	// heartbeat events are observable without polling statusfile snapshots.
	bc := broadcast.New()
	bc.Subscribe(broadcast.FuncSubscriber(func(e event.Event) {
		if e.Type == event.TypeAgentLog {
			fmt.Printf("[%s] %s\n", short(e.CardID), e.Line)
			return
		}
		fmt.Printf("[event] %s card=%s project=%s\n", e.Type, short(e.CardID), e.ProjectID)
	}), nil)
	var sink event.Sink = bc
	n := notify.NewStdout(os.Stdout)

	orch := orchestrator.New(store, sink, cfg, repoDir)
	hb := heartbeat.New(store, orch, sink, n, cfg, repoDir)
	sy := heartbeat.NewSynthesizer(store, sink, n, cfg, repoDir)

	if err := hb.Reconcile(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reconcile error: %s\n", err)
	}

	if err := intake.WritePID(repoDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not record daemon PID for `foreman submit --immediate`: %s\n", err)
	}

	fmt.Printf("foreman daemon started (build tick every %s, synthesize every %s)\n",
		cfg.Settings.TickInterval.Duration(), cfg.Settings.SynthesizeInterval.Duration())

	go hb.Run(ctx)
	go sy.Run(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				// `foreman submit --immediate` signals the running daemon
				// to drain pending task briefs and spawn right away,
				// instead of waiting for the next scheduled tick.
				hb.Tick(ctx)
				continue
			}
			fmt.Printf("\nreceived %s, shutting down...\n", sig)
			cancel()
			break loop
		}
	}

	orch.ShutdownAll(cfg.Settings.AgentTimeout.Duration())
	fmt.Println("foreman daemon stopped")
	return nil
}
