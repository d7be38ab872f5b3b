// Package supervisor wires NetlinkClient, NetTables, StateStore, and the
// Reconciler into the daemon's concurrent workers: a shutdown waiter
// (modeled as ctx cancellation rather than an explicit event flag),
// the event monitor, the one-shot initial-state sync, the state-reload
// worker, and the Reconciler loop. golang.org/x/sync/errgroup supplies
// "N goroutines, first error wins, cancel the rest" — if any worker
// terminates with an error, the whole daemon exits.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/gwerr"
	"github.com/kuuji/defaultconfd/internal/netlinkx"
	"github.com/kuuji/defaultconfd/internal/nettables"
	"github.com/kuuji/defaultconfd/internal/reconciler"
	"github.com/kuuji/defaultconfd/internal/statestore"
)

// reconcileTimeout bounds a single trigger.Acquire wait so the
// reconciler loop periodically re-checks ctx even with no pending
// trigger.
const reconcileTimeout = time.Second

// Supervisor owns the shared NetTables mirror, the in-memory State
// copy, and the two coalescing triggers, and runs the worker pool.
type Supervisor struct {
	Client netlinkx.Client
	Tables *nettables.Tables
	Store  *statestore.Store
	Config gateway.Config
	Log    *slog.Logger

	trigger     *Trigger
	stateReload *Trigger

	mu    sync.RWMutex
	state gateway.State

	startTime time.Time
}

// New returns a Supervisor ready for Run.
func New(client netlinkx.Client, store *statestore.Store, cfg gateway.Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		Client:      client,
		Tables:      nettables.New(),
		Store:       store,
		Config:      cfg,
		Log:         log.With("component", "supervisor"),
		trigger:     NewTrigger(),
		stateReload: NewTrigger(),
		startTime:   time.Now(),
	}
}

// ReloadState reloads the state file from disk and releases the
// reconciliation trigger, the same effect SIGUSR1 has. The control
// server's POST /reload handler calls this directly instead of
// signalling its own process.
func (s *Supervisor) ReloadState() error {
	state, err := s.Store.Load()
	if err != nil {
		return err
	}
	s.setState(state)
	s.trigger.Release()
	return nil
}

// Run starts four worker goroutines (initial sync, event monitor,
// state reload, reconciler) and blocks until ctx is cancelled or one
// of them returns a non-nil error, at which point the rest are
// cancelled and drained. ctx cancellation (SIGTERM/SIGINT, handled by
// the caller via signal.NotifyContext) is the shutdown waiter; SIGUSR1
// is handled internally by the state-reload worker.
func (s *Supervisor) Run(ctx context.Context) error {
	state, err := s.Store.Load()
	if err != nil {
		return err
	}
	s.setState(state)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runInitialSync(ctx) })
	g.Go(func() error { return s.runEventMonitor(ctx) })
	g.Go(func() error { return s.runStateReload(ctx) })
	g.Go(func() error { return s.runReconciler(ctx) })
	return g.Wait()
}

func (s *Supervisor) currentState() gateway.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(state gateway.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// runInitialSync is the one-shot worker: it applies the
// buffered-then-replay baseline, then releases the trigger once so the
// reconciler's first pass sees a populated mirror. It exits after one
// successful run; returning nil does not cancel the other workers.
func (s *Supervisor) runInitialSync(ctx context.Context) error {
	if err := bufferThenReplay(ctx, s.Client, s.Tables, s.Config.FIB, s.Log); err != nil {
		return err
	}
	s.trigger.Release()
	return nil
}

// runEventMonitor subscribes to the link, address, and route
// multicast groups and applies every notification to Tables in
// arrival order, releasing the trigger after each applied mutation. It
// runs its own long-lived subscription independent of the one
// runInitialSync used and closed.
func (s *Supervisor) runEventMonitor(ctx context.Context) error {
	stream, err := s.Client.Subscribe(ctx,
		netlinkx.GroupLink,
		netlinkx.GroupIPv4IfAddr,
		netlinkx.GroupIPv4Route,
		netlinkx.GroupIPv6IfAddr,
		netlinkx.GroupIPv6Route,
	)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			s.Log.Warn("event monitor: read failed, continuing", "error", err)
			continue
		}
		applyEvent(s.Tables, ev)
		s.trigger.Release()
	}
}

// runStateReload waits on SIGUSR1 and, on each delivery, reloads the
// state file and releases the reconciliation trigger.
func (s *Supervisor) runStateReload(ctx context.Context) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			if err := s.ReloadState(); err != nil {
				s.Log.Warn("state reload failed, keeping prior state", "error", err)
			} else {
				s.Log.Info("state reloaded")
			}
		}
	}
}

// runReconciler is the convergence loop: on trigger, it snapshots the
// current in-memory State and runs one Reconciler pass; on a timed-out
// acquire it just loops back to re-check ctx.
func (s *Supervisor) runReconciler(ctx context.Context) error {
	rec := &reconciler.Reconciler{
		Client: s.Client,
		Tables: s.Tables,
		Config: s.Config,
		Log:    s.Log.With("component", "reconciler"),
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !s.trigger.Acquire(ctx, reconcileTimeout) {
			continue
		}
		if err := rec.Reconcile(ctx, s.currentState()); err != nil {
			s.Log.Error("reconciliation pass failed", "error", err)
		}
	}
}

func isTimeout(err error) bool {
	var t *gwerr.Timeout
	return errors.As(err, &t)
}
