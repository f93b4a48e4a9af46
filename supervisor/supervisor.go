// Package supervisor implements C8 (spec §4.8): the mode-command intake
// queue, the (mode, mode) reconciliation table, the session/converter-driver
// pair's lifetime (one pair per Run, not respawned between charge sessions),
// and SIGINT handling. Grounded on
// the original's global_state/mod.rs dispatch loop and the teacher's
// process-composition style in the (now superseded) root main.go, rebuilt
// around golang.org/x/sync/errgroup for task supervision rather than the
// teacher's ad hoc goroutine+channel join.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rand12345/beaglebone-v2h/converter"
	"github.com/rand12345/beaglebone-v2h/session"
)

// modeQueueCapacity is the bounded mode-command channel capacity (spec
// §4.8): backpressure, not drop-oldest — a full queue blocks the sender.
const modeQueueCapacity = 100

// SessionFactory builds a session.Machine and its converter driver, given
// the mode channel the session will read from. Run calls it once; the pair
// it returns serves every charge session until Run returns. Supplied by the composition root (cmd/station) so the supervisor
// never constructs hardware handles itself.
type SessionFactory func(modeCh <-chan session.OperationMode) (*session.Machine, *converter.Driver)

// Supervisor owns the mode queue and the current session's lifetime.
type Supervisor struct {
	log     *zap.SugaredLogger
	factory SessionFactory

	modeCh chan session.OperationMode

	mu          sync.Mutex
	currentMode session.OperationMode
}

// New returns a Supervisor ready to Run.
func New(log *zap.SugaredLogger, factory SessionFactory) *Supervisor {
	return &Supervisor{
		log:         log,
		factory:     factory,
		modeCh:      make(chan session.OperationMode, modeQueueCapacity),
		currentMode: session.OperationMode{Kind: session.ModeIdle},
	}
}

// SetMode enqueues a mode command, blocking if the queue is full (spec
// §4.8: backpressure is intentional, never silently drop a command).
func (s *Supervisor) SetMode(ctx context.Context, m session.OperationMode) error {
	select {
	case s.modeCh <- m:
		s.mu.Lock()
		s.currentMode = m
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentMode reports the last mode (with its parameters) accepted onto
// the queue, matching spec §6.3's {"Mode": <OperationMode>} response shape.
func (s *Supervisor) CurrentMode() session.OperationMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentMode
}

// Run spawns one session + converter driver pair and supervises them until
// ctx is cancelled or SIGINT arrives. A second SIGINT forces exit(1)
// without waiting for an orderly Teardown (spec §4.8, §6.5).
func (s *Supervisor) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mach, drv := s.factory(s.modeCh)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return drv.Run(gctx) })
	g.Go(func() error { return mach.Run(gctx) })

	interrupts := 0
	for {
		select {
		case <-sigCh:
			interrupts++
			if interrupts == 1 {
				s.log.Infow("SIGINT received, tearing down")
				_ = s.SetMode(context.Background(), session.OperationMode{Kind: session.ModeQuit})
				cancel()
			} else {
				s.log.Warnw("second SIGINT, forcing exit(1)")
				os.Exit(1)
			}
		case <-gctx.Done():
			_ = g.Wait()
			return nil
		}
	}
}
