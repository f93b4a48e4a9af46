package converter

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/protocol"
)

// fakeTransport is an in-memory Transport that answers every read with a
// canned value and acks every write, looping back nothing else. It lets
// the driver's init sequence and poll groups run without real CAN hardware.
type fakeTransport struct {
	mu      sync.Mutex
	inbox   chan [2]any // {id uint32, data [8]byte}
	regVals map[uint16]uint16
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox: make(chan [2]any, 8),
		regVals: map[uint16]uint16{
			protocol.RegIdentVendor:   1,
			protocol.RegIdentProduct:  2,
			protocol.RegIdentVersion:  3,
			protocol.RegStatus:        0,
			protocol.RegEnable:        1,
			protocol.RegTemp:          450, // 45.0C
			protocol.RegACOutputV:     2300,
			protocol.RegACOutputA:     100,
			protocol.RegDCOutputV:     4000, // 400.0V
			protocol.RegDCOutputA:     200,
			protocol.RegDCBusV:        4000,
			protocol.RegVoltsSetpoint: 4000,
			protocol.RegAmpsSetpoint:  200,
			protocol.RegPing:          1,
		},
	}
}

func (f *fakeTransport) Send(id uint32, data [8]byte) error {
	req, err := protocol.DecodeSDO(id, data[:])
	if err != nil {
		return err
	}

	f.mu.Lock()
	if req.Cmd == protocol.SDOCmdWrite {
		f.regVals[req.Reg] = req.RawVal
	}
	val := f.regVals[req.Reg]
	f.mu.Unlock()

	resp := protocol.SDOFrame{Cmd: protocol.SDOCmdTwoByteAck, Reg: req.Reg, RawVal: val}
	respData := protocol.EncodeSDO(resp)
	f.inbox <- [2]any{uint32(protocol.SDOCobIDIn), respData}
	return nil
}

func (f *fakeTransport) Recv(ctx context.Context) (uint32, [8]byte, error) {
	select {
	case m := <-f.inbox:
		return m[0].(uint32), m[1].([8]byte), nil
	case <-ctx.Done():
		return 0, [8]byte{}, canRxTimeout()
	}
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestDriverInitSequenceReachesOnline(t *testing.T) {
	tr := newFakeTransport()
	d := NewDriver(tr, testLogger(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := d.initSequence(ctx); err != nil {
		t.Fatalf("initSequence: %v", err)
	}
	if d.Snapshot().Lifecycle != Online {
		t.Fatalf("lifecycle = %v, want Online", d.Snapshot().Lifecycle)
	}
}

func TestDriverPollOutputsPopulatesSnapshot(t *testing.T) {
	tr := newFakeTransport()
	d := NewDriver(tr, testLogger(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := d.pollOutputs(ctx); err != nil {
		t.Fatalf("pollOutputs: %v", err)
	}
	snap := d.Snapshot()
	if snap.TempC != 45.0 {
		t.Errorf("TempC = %v, want 45.0", snap.TempC)
	}
	if snap.DCOutputV != 400.0 {
		t.Errorf("DCOutputV = %v, want 400.0", snap.DCOutputV)
	}
}

func TestDriverApplyCommandSetVolts(t *testing.T) {
	tr := newFakeTransport()
	d := NewDriver(tr, testLogger(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := d.applyCommand(ctx, Command{Kind: CmdSetVolts, Value: 380.0}); err != nil {
		t.Fatalf("applyCommand: %v", err)
	}
	tr.mu.Lock()
	got := tr.regVals[protocol.RegVoltsSetpoint]
	tr.mu.Unlock()
	if got != 3800 {
		t.Errorf("RegVoltsSetpoint raw = %d, want 3800", got)
	}
}

func TestDriverVoltsEqual(t *testing.T) {
	cases := []struct {
		sp, out float64
		want    bool
	}{
		{400, 400, true},
		{400, 401.5, true},
		{400, 402, true},
		{400, 402.1, false},
		{400, 397.9, false},
	}
	for _, c := range cases {
		s := Snapshot{DCSetpointV: c.sp, DCOutputV: c.out}
		if got := s.VoltsEqual(); got != c.want {
			t.Errorf("VoltsEqual(sp=%v,out=%v) = %v, want %v", c.sp, c.out, got, c.want)
		}
	}
}

func TestDriverRunShutdownOnContextCancel(t *testing.T) {
	tr := newFakeTransport()
	d := NewDriver(tr, testLogger(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	runCtx, runCancel := context.WithCancel(ctx)
	go func() { done <- d.Run(runCtx) }()

	time.Sleep(150 * time.Millisecond)
	runCancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after ctx cancel")
	}

	if d.Snapshot().Lifecycle != Offline {
		t.Fatalf("lifecycle after shutdown = %v, want Offline", d.Snapshot().Lifecycle)
	}
}
