package supervisor

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/session"
)

// The reconciliation table (spec §4.8) is the identity function: whatever
// mode arrives becomes the current mode, regardless of what came before.
func TestSetModeReconciliationIsIdentity(t *testing.T) {
	sup := New(zap.NewNop().Sugar(), nil)

	for _, m := range []session.Mode{session.ModeV2h, session.ModeCharge, session.ModeDischarge, session.ModeIdle, session.ModeQuit} {
		if err := sup.SetMode(context.Background(), session.OperationMode{Kind: m}); err != nil {
			t.Fatalf("SetMode(%v): %v", m, err)
		}
		if got := sup.CurrentMode(); got.Kind != m {
			t.Errorf("CurrentMode().Kind = %v, want %v", got.Kind, m)
		}
	}
}

func TestSetModeRespectsContextCancellation(t *testing.T) {
	sup := New(zap.NewNop().Sugar(), nil)
	// Fill the queue to capacity so the next send would block.
	for i := 0; i < modeQueueCapacity; i++ {
		sup.modeCh <- session.OperationMode{Kind: session.ModeIdle}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sup.SetMode(ctx, session.OperationMode{Kind: session.ModeV2h}); err == nil {
		t.Fatal("expected context error on full queue + cancelled ctx")
	}
}
