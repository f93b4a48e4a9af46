package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/converter"
	"github.com/rand12345/beaglebone-v2h/gpioio"
	"github.com/rand12345/beaglebone-v2h/protocol"
	"github.com/rand12345/beaglebone-v2h/telemetry"
)

// fakeGPIO is an in-memory GPIO for exercising state transitions without
// real pins.
type fakeGPIO struct {
	mu    sync.Mutex
	lines map[string]bool
	k     bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{lines: map[string]bool{}}
}

func (g *fakeGPIO) Write(name string, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lines[name] = on
	return nil
}

func (g *fakeGPIO) Read(name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lines[name], nil
}

func (g *fakeGPIO) ReadK() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.k, nil
}

func (g *fakeGPIO) AllLow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range []string{gpioio.D1, gpioio.D2, gpioio.C1, gpioio.C2, gpioio.PlugLock, gpioio.PreAC} {
		g.lines[n] = false
	}
	return nil
}

// fakeConverter is a settable stand-in for *converter.Driver.
type fakeConverter struct {
	mu   sync.Mutex
	snap converter.Snapshot
	cmds []converter.Command
}

func (f *fakeConverter) Snapshot() converter.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeConverter) setSnapshot(s converter.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

func (f *fakeConverter) Command(c converter.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, c)
	if c.Kind == converter.CmdSetVolts {
		f.snap.DCSetpointV = c.Value
		f.snap.DCOutputV = c.Value // fake converter tracks instantly
	}
}

// fakeCAN is an in-memory CHAdeMO transport: Send records outbound frames,
// Recv replays a queued sequence of inbound frames (or blocks).
type fakeCAN struct {
	mu      sync.Mutex
	sent    []uint32
	inbound chan [2]any
}

func newFakeCAN() *fakeCAN {
	return &fakeCAN{inbound: make(chan [2]any, 16)}
}

func (c *fakeCAN) Send(id uint32, data [8]byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, id)
	c.mu.Unlock()
	return nil
}

func (c *fakeCAN) Recv(ctx context.Context) (uint32, [8]byte, error) {
	select {
	case m := <-c.inbound:
		return m[0].(uint32), m[1].([8]byte), nil
	case <-ctx.Done():
		return 0, [8]byte{}, ctx.Err()
	}
}

func (c *fakeCAN) push(id uint32, data [8]byte) {
	c.inbound <- [2]any{id, data}
}

func testMachine() (*Machine, *fakeGPIO, *fakeConverter, *fakeCAN, chan OperationMode) {
	gp := newFakeGPIO()
	conv := &fakeConverter{}
	can := newFakeCAN()
	modeCh := make(chan OperationMode, 8)
	tel := &telemetry.Store{}
	m := New(can, gp, conv, tel, zap.NewNop().Sugar(), modeCh)
	return m, gp, conv, can, modeCh
}

// Scenario 1 (spec §8): cold idle, vehicle reports target 410V/SoC 86 with
// contactors open and charging disabled. Mode stays Idle.
func TestScenarioColdIdle(t *testing.T) {
	m, gp, _, _, _ := testMachine()

	data := [8]byte{0x02, 0x9A, 0x01, 0x00, 0x00, 0xC8, 0x56, 0x00}
	vs, err := protocol.DecodeVehicleStatus(protocol.IDVehicleStatus, data[:])
	if err != nil {
		t.Fatal(err)
	}
	m.vstatus = vs

	m.advance(context.Background(), time.Now())

	if m.state != Idle {
		t.Fatalf("state = %v, want Idle", m.state)
	}
	if m.status.StatusByte() != 0x20 {
		t.Errorf("status byte = %#x, want 0x20", m.status.StatusByte())
	}
	for _, n := range []string{gpioio.D1, gpioio.D2, gpioio.C1, gpioio.C2, gpioio.PlugLock, gpioio.PreAC} {
		if v, _ := gp.Read(n); v {
			t.Errorf("line %s driven high in Idle", n)
		}
	}
}

// Scenario 3 (spec §8): pre-charge gate closes contactors once volts_equal
// and the EV confirms contactors closed and charging enabled.
func TestScenarioPreChargeGate(t *testing.T) {
	m, _, conv, _, _ := testMachine()
	m.state = PreCharge
	m.enteredAt = time.Now()
	m.vehicle = protocol.VehicleFrame{MinBatteryVoltageV: 300, MaxBatteryVoltageV: 420}
	m.vstatus = protocol.VehicleStatus{
		TargetBatteryVoltageV:  410,
		ContactorsOpen:         false,
		VehicleChargingEnabled: true,
		StateOfChargePct:       50,
	}
	conv.setSnapshot(converter.Snapshot{DCSetpointV: 410, DCOutputV: 410})

	m.advance(context.Background(), time.Now())

	if m.state != Active {
		t.Fatalf("state = %v, want Active", m.state)
	}
	if got := m.status.StatusByte(); got != 0x05 {
		t.Errorf("status byte = %#x, want 0x05", got)
	}
}

// Scenario 5 (spec §8): SoC upper cutoff in Charge mode sets
// charger_stop_control and proceeds to Teardown within one tick.
func TestScenarioSoCUpperCutoff(t *testing.T) {
	m, _, conv, _, _ := testMachine()
	limit := 80
	m.mode = OperationMode{Kind: ModeCharge, Params: ChargeParameters{AmpsCap: 16, SocLimit: &limit}}
	m.state = Active
	m.enteredAt = time.Now()
	m.vstatus = protocol.VehicleStatus{
		VehicleChargingEnabled:  true,
		ChargingCurrentRequestA: 16,
		StateOfChargePct:        80,
	}
	conv.setSnapshot(converter.Snapshot{})

	m.advance(context.Background(), time.Now())

	if !m.status.ChargerStopControl {
		t.Error("expected charger_stop_control set at soc limit")
	}
	if m.state != Teardown {
		t.Fatalf("state = %v, want Teardown", m.state)
	}
}

// P3: the machine must never emit a status byte with both station_active
// and charger_stop_control set.
func TestStatusExclusivityAcrossStates(t *testing.T) {
	m, _, conv, _, _ := testMachine()
	conv.setSnapshot(converter.Snapshot{DCSetpointV: 400, DCOutputV: 400})
	m.vstatus = protocol.VehicleStatus{
		TargetBatteryVoltageV:  400,
		VehicleChargingEnabled: true,
		ChargingCurrentRequestA: 16,
		StateOfChargePct:       50,
	}

	states := []State{Idle, PreEnergize, LockPlug, KLineWait, PreCharge, Active, Teardown}
	for _, s := range states {
		m.state = s
		m.enteredAt = time.Now()
		m.advance(context.Background(), time.Now())
		b := m.status.StatusByte()
		if b&0x01 != 0 && b&0x20 != 0 {
			t.Errorf("state %v produced exclusivity violation, byte=%#x", s, b)
		}
	}
}

// P6: the tick after plug_lock(true), the transmitted 0x109 has
// connector_lock = 1.
func TestPlugLockMirrorsIntoStatusNextTick(t *testing.T) {
	m, gp, _, _, _ := testMachine()
	m.state = LockPlug
	m.enteredAt = time.Now()

	m.advance(context.Background(), time.Now())
	if on, _ := gp.Read(gpioio.PlugLock); !on {
		t.Fatal("expected plug_lock energized on first LockPlug tick")
	}
	if m.status.ConnectorLock {
		t.Error("connector_lock should not be set on the same tick as plug_lock(true)")
	}

	m.advance(context.Background(), time.Now())
	if !m.status.ConnectorLock {
		t.Error("connector_lock should be set on the tick after plug_lock(true)")
	}
}

func TestIdleToPreEnergizeOnModeChange(t *testing.T) {
	m, _, _, _, modeCh := testMachine()
	modeCh <- OperationMode{Kind: ModeV2h}
	m.drainModeCommands()
	m.advance(context.Background(), time.Now())
	if m.state != PreEnergize {
		t.Fatalf("state = %v, want PreEnergize", m.state)
	}
}

func TestHardFaultForcesTeardown(t *testing.T) {
	m, _, _, _, _ := testMachine()
	m.state = Active
	m.vstatus = protocol.VehicleStatus{Fault: protocol.VehicleFaults{OverVoltage: true}}
	_ = m.tick(context.Background())
	if m.state != Teardown {
		t.Fatalf("state = %v, want Teardown", m.state)
	}
}
