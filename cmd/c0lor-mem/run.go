package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/victorarias/c0lor-mem/internal/backend"
	"github.com/victorarias/c0lor-mem/internal/bridge"
	"github.com/victorarias/c0lor-mem/internal/client"
	"github.com/victorarias/c0lor-mem/internal/config"
	"github.com/victorarias/c0lor-mem/internal/dashboard"
	"github.com/victorarias/c0lor-mem/internal/protocol"
	"github.com/victorarias/c0lor-mem/internal/registry"
	"github.com/victorarias/c0lor-mem/internal/status"
	"github.com/victorarias/c0lor-mem/internal/store"
	"github.com/victorarias/c0lor-mem/internal/stream"
)

const pruneAfter = 10 * time.Minute

var flagNoTUI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the worker and watch batch progress",
	Long: `The run command starts the pattern worker on a free loopback port,
waits until it answers its health check, and keeps a progress stream open
to it. With a terminal attached it shows a dashboard; --no-tui prints a
status line instead. The worker is stopped on exit.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&flagNoTUI, "no-tui", false, "Print status lines instead of the dashboard")
}

// shell wires the supervisor, bridge and stream together.
type shell struct {
	sup     *backend.Supervisor
	bridge  *bridge.Bridge
	stream  *stream.Manager
	tracker *status.Tracker
	history *store.Store // nil when the database could not be opened
	api     *client.Client
	// release drops the subscriptions made on the shared bridge and stream.
	release []func()
}

func newShell() *shell {
	s := &shell{
		sup:     backend.NewSupervisor(supervisorConfig()),
		bridge:  bridge.Default(),
		stream:  stream.Default(),
		tracker: status.NewTracker(),
	}
	s.api = client.New(s.bridge, nil)
	s.stream.SetLogger(logger.Debugf)
	s.release = append(s.release, s.stream.Subscribe(s.tracker.Update))

	if h, err := store.Open(config.HistoryPath()); err != nil {
		logger.Warnf("batch history disabled: %v", err)
	} else {
		s.history = h
		s.release = append(s.release, s.stream.Subscribe(func(evt protocol.ProgressEvent) {
			if err := h.Upsert(evt); err != nil {
				logger.Warnf("record batch: %v", err)
			}
		}))
	}

	s.release = append(s.release, s.bridge.Listen(func(a bridge.Announcement) {
		if a.Ready {
			s.stream.Connect()
			return
		}
		s.stream.Disconnect()
	}))
	s.sup.SetReadyHandler(func(info protocol.BackendInfo) {
		if err := registry.WriteAtomic(config.RegistryPath(), registry.NewEntry(s.sup.PID(), info.BaseURL)); err != nil {
			logger.Warnf("write registry: %v", err)
		}
		s.bridge.Announce(info)
	})
	s.sup.SetExitHandler(func(exit backend.ExitInfo) {
		logger.Warnf("worker exited: pid=%d state=%s", exit.PID, exit.State)
		s.bridge.Withdraw()
		_ = registry.Remove(config.RegistryPath())
		s.markInterrupted()
	})
	return s
}

// shutdown stops the worker first so no ready or exit hook can run after
// the rest is torn down.
func (s *shell) shutdown() {
	if err := s.sup.Stop(); err != nil {
		logger.Errorf("stop worker: %v", err)
	}
	s.bridge.Withdraw()
	s.stream.Close()
	for _, release := range s.release {
		release()
	}
	if err := registry.Remove(config.RegistryPath()); err != nil {
		logger.Warnf("remove registry: %v", err)
	}
	if s.history != nil {
		s.markInterrupted()
		_ = s.history.Close()
		s.history = nil
	}
}

// markInterrupted closes out batches the worker can no longer report on.
func (s *shell) markInterrupted() {
	if s.history == nil {
		return
	}
	if n, err := s.history.MarkInterrupted(); err != nil {
		logger.Warnf("close history: %v", err)
	} else if n > 0 {
		logger.Infof("marked %d unfinished batches as failed", n)
	}
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newShell()
	defer s.shutdown()

	info, err := s.sup.Start(ctx)
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Infof("worker ready at %s", info.BaseURL)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := s.tracker.Prune(time.Now().Add(-pruneAfter)); n > 0 {
					logger.Debugf("pruned %d finished batches", n)
				}
			}
		}
	})

	if flagNoTUI {
		g.Go(func() error { return printStatus(ctx, s.tracker) })
	} else {
		g.Go(func() error { return runDashboard(ctx, s) })
	}

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// errQuit ends the errgroup when the user leaves the dashboard.
var errQuit = errors.New("quit")

func runDashboard(ctx context.Context, s *shell) error {
	model := dashboard.NewModel(dashboard.Deps{
		Backend:   s.sup,
		Stream:    s.stream,
		Tracker:   s.tracker,
		Canceller: s.api,
		Reload:    s.bridge.Reload,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return errQuit
}

func printStatus(ctx context.Context, tracker *status.Tracker) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			line := status.Format(tracker.Batches())
			if line != last {
				fmt.Println(line)
				last = line
			}
		}
	}
}
