// Package session implements the CHAdeMO session state machine (spec
// §4.5), the heart of the station: one cooperative task cycling at 100 ms
// on the CHAdeMO bus ("can1"), coordinating GPIO, the converter driver and
// the setpoint controllers through the Idle -> ... -> Teardown sequence.
// Grounded on the original's chademo/{chademo.rs,state.rs,ev_connect.rs},
// reshaped into the teacher's single-cooperative-task-with-bounded-channels
// idiom (spec §9 design note) rather than the original's explicit FSM enum
// match arms.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/converter"
	"github.com/rand12345/beaglebone-v2h/protocol"
	"github.com/rand12345/beaglebone-v2h/setpoint"
	"github.com/rand12345/beaglebone-v2h/telemetry"
)

const (
	preEnergizeTimeout = 20 * time.Second
	kLineWaitTimeout   = 10 * time.Second
	preChargeTimeout   = 10 * time.Second
	tickPeriod         = 100 * time.Millisecond
	canSilenceLimit    = time.Second

	preEnergizeSetpointV = 370.0
	preEnergizeSetpointA = 1.0

	maxAmps = 32.0

	teardownVoltsThresholdV = 10.0
)

// Machine is the C5 session state machine. It owns the CHAdeMO CAN
// transport and the GPIO handles exclusively (spec §5); the converter
// driver is a collaborator reached only through its command channel and
// Snapshot.
type Machine struct {
	can  converter.Transport
	gpio GPIO
	conv ConverterDriver
	tel  *telemetry.Store
	log  *zap.SugaredLogger

	modeCh <-chan OperationMode
	mode   OperationMode

	vehicle       protocol.VehicleFrame
	haveCapability bool
	vstatus       protocol.VehicleStatus
	v2x           protocol.VehicleV2xFrame

	station     protocol.StationFrame
	status      protocol.StationStatus
	stationV2x  protocol.StationV2xFrame
	v2xStatus   protocol.StationV2xStatus

	state        State
	enteredAt    time.Time
	silenceSince time.Time
	lastSOC      int

	preEnergizeIssued bool
	lockPlugConfirmed bool
	contactorsOpened  bool

	meterFollow  setpoint.MeterFollowState
	lastMeterKW  float64
	seq          uint8
}

// SetMeterReading updates the reading the V2h/Eco controller follows. No
// caller in this repository invokes it (cmd/station does not pass the
// meter poller's reading on), so the controller sees 0 kW.
func (m *Machine) SetMeterReading(kw float64) { m.lastMeterKW = kw }

// New constructs a Machine in Idle with all-zero frames and lines low.
func New(can converter.Transport, gp GPIO, conv ConverterDriver, tel *telemetry.Store, log *zap.SugaredLogger, modeCh <-chan OperationMode) *Machine {
	return &Machine{
		can:    can,
		gpio:   gp,
		conv:   conv,
		tel:    tel,
		log:    log,
		modeCh: modeCh,
		mode:   OperationMode{Kind: ModeIdle},
		state:  Idle,
		status: protocol.StationStatusIdle(),
	}
}

// Run drives the 100 ms tick loop until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	m.enteredAt = time.Now()
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.log.Errorw("session tick error", "state", m.state, "err", err)
			}
		}
	}
}

// tick implements one 100 ms cycle: transmit, receive, advance (spec §4.5).
func (m *Machine) tick(ctx context.Context) error {
	now := time.Now()
	m.drainModeCommands()

	m.transmit()

	saw, err := m.receive(ctx)
	if err != nil && m.state != Idle {
		m.log.Debugw("session rx error", "err", err)
	}
	if saw {
		m.silenceSince = time.Time{}
	} else if m.state != Idle {
		if m.silenceSince.IsZero() {
			m.silenceSince = now
		} else if now.Sub(m.silenceSince) >= canSilenceLimit {
			m.log.Warnw("CAN silence exceeded 1s, tearing down")
			m.enterTeardown(now)
		}
	}

	if m.state != Idle && m.state != Teardown && (m.vstatus.Fault.Any() || m.vstatus.NormalStopRequest) {
		m.enterTeardown(now)
	}

	m.advance(ctx, now)
	m.publishTelemetry()
	return nil
}

// drainModeCommands applies any pending mode change non-blockingly; the
// supervisor's bounded queue backpressures on SetMode, session never
// blocks waiting to receive (spec §4.8/§5).
func (m *Machine) drainModeCommands() {
	for {
		select {
		case nm, ok := <-m.modeCh:
			if !ok {
				return
			}
			m.mode = nm
			if nm.Kind == ModeQuit {
				m.enterTeardown(time.Now())
			}
		default:
			return
		}
	}
}

// transmit sends the four outbound frames in the fixed order required by
// spec §5: {0x108, 0x109, 0x208, 0x209}.
func (m *Machine) transmit() {
	m.send(protocol.IDStationFrame, protocol.EncodeStationFrame(m.station))
	m.send(protocol.IDStationStatus, protocol.EncodeStationStatus(m.status))
	m.send(protocol.IDStationV2xFrame, protocol.EncodeStationV2xFrame(m.stationV2x))
	m.v2xStatus.Sequence = m.seq
	m.seq++
	m.send(protocol.IDStationV2xStatus, protocol.EncodeStationV2xStatus(m.v2xStatus))
}

func (m *Machine) send(id uint32, data [8]byte) {
	if err := m.can.Send(id, data); err != nil {
		m.log.Debugw("session tx failed", "id", id, "err", err)
	}
}

// receive drains the CAN input for up to one tick period, decoding every
// recognized frame and reporting whether anything was received.
func (m *Machine) receive(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, tickPeriod)
	defer cancel()

	saw := false
	for {
		id, data, err := m.can.Recv(cctx)
		if err != nil {
			if saw {
				return true, nil
			}
			return false, err
		}
		saw = true
		m.decode(id, data[:])
	}
}

func (m *Machine) decode(id uint32, data []byte) {
	switch id {
	case protocol.IDVehicleCapability:
		if v, err := protocol.DecodeVehicleFrame100(id, data); err == nil {
			m.vehicle = v
			m.haveCapability = true
		}
	case protocol.IDVehicleCapability2:
		_ = protocol.DecodeVehicleFrame101(id, data, &m.vehicle)
	case protocol.IDVehicleStatus:
		if v, err := protocol.DecodeVehicleStatus(id, data); err == nil {
			m.vstatus = v
		}
	case protocol.IDVehicleV2x:
		if v, err := protocol.DecodeVehicleV2x(id, data); err == nil {
			m.v2x = v
		}
	}
}

// enterTeardown transitions immediately to Teardown (I5, hard faults and
// Quit), commanding the converter to shut down.
func (m *Machine) enterTeardown(now time.Time) {
	if m.state == Teardown {
		return
	}
	m.state = Teardown
	m.enteredAt = now
	m.status.ChargerStopControl = true
	m.status.StationActive = false
	m.conv.Command(converter.Command{Kind: converter.CmdShutdown})
}

// publishTelemetry writes the shared snapshot, non-blocking (spec §4.7).
func (m *Machine) publishTelemetry() {
	snap := m.conv.Snapshot()
	ok := m.tel.TryWrite(func(t *telemetry.Snapshot) {
		t.SoC = int(m.vstatus.StateOfChargePct)
		t.VoltsV = snap.DCOutputV
		t.AmpsA = snap.DCOutputA
		t.TempC = snap.TempC
		t.FanDutyPct = snap.FanDutyPct
		t.RequestedA = float64(m.vstatus.ChargingCurrentRequestA)
		t.Mode = m.mode.Kind.String()
		t.SessionState = m.state.String()
	})
	if !ok {
		m.log.Debugw("telemetry write skipped, contended")
	}
}
