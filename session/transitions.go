package session

import (
	"context"
	"time"

	"github.com/rand12345/beaglebone-v2h/converter"
	"github.com/rand12345/beaglebone-v2h/gpioio"
	"github.com/rand12345/beaglebone-v2h/protocol"
	"github.com/rand12345/beaglebone-v2h/setpoint"
)

// advance runs the entry/poll logic for the current state and performs any
// transition (spec §4.5 state contracts).
func (m *Machine) advance(ctx context.Context, now time.Time) {
	switch m.state {
	case Idle:
		m.stepIdle(now)
	case PreEnergize:
		m.stepPreEnergize(now)
	case LockPlug:
		m.stepLockPlug(now)
	case KLineWait:
		m.stepKLineWait(now)
	case PreCharge:
		m.stepPreCharge(now)
	case Active:
		m.stepActive(now)
	case Teardown:
		m.stepTeardown(now)
	}
}

func (m *Machine) enter(s State, now time.Time) {
	m.state = s
	m.enteredAt = now
}

// stepIdle: all lines low, converter undriven, 0x109 carries
// charger_stop_control=1/station_active=0. Leaves on a non-Idle mode.
func (m *Machine) stepIdle(now time.Time) {
	_ = m.gpio.AllLow()
	m.status = protocol.StationStatusIdle()

	if m.mode.Kind != ModeIdle && m.mode.Kind != ModeUninitialised {
		m.preEnergizeIssued = false
		m.enter(PreEnergize, now)
	}
}

// stepPreEnergize: assert pre_ac, wait for the converter to come Online and
// match the 370V/1A init setpoint. 20s timeout -> Teardown.
func (m *Machine) stepPreEnergize(now time.Time) {
	_ = m.gpio.Write(gpioio.PreAC, true)

	if now.Sub(m.enteredAt) >= preEnergizeTimeout {
		m.log.Warnw("PreEnergize timeout")
		m.enterTeardown(now)
		return
	}

	snap := m.conv.Snapshot()
	if snap.Lifecycle != converter.Online {
		return
	}

	if !m.preEnergizeIssued {
		m.conv.Command(converter.Command{Kind: converter.CmdSetVolts, Value: preEnergizeSetpointV})
		m.conv.Command(converter.Command{Kind: converter.CmdSetAmps, Value: preEnergizeSetpointA})
		m.preEnergizeIssued = true
		return
	}

	if snap.VoltsEqual() {
		m.lockPlugConfirmed = false
		m.enter(LockPlug, now)
	}
}

// stepLockPlug: assert D1, energize the plug lock, mirror into 0x109 per
// P6 (connector_lock follows the tick after plug_lock(true)).
func (m *Machine) stepLockPlug(now time.Time) {
	_ = m.gpio.Write(gpioio.D1, true)

	if !m.lockPlugConfirmed {
		_ = m.gpio.Write(gpioio.PlugLock, true)
		m.status = protocol.StationStatusIdle() // 0x20
		m.lockPlugConfirmed = true
		return
	}

	m.status = protocol.StationStatus{ChargerStopControl: true, ConnectorLock: true} // 0x24
	m.enter(KLineWait, now)
}

// stepKLineWait: poll k and the EV's can_close_contactors predicate. 10s
// timeout -> Teardown.
func (m *Machine) stepKLineWait(now time.Time) {
	if now.Sub(m.enteredAt) >= kLineWaitTimeout {
		m.log.Warnw("KLineWait timeout")
		m.enterTeardown(now)
		return
	}

	k, err := m.gpio.ReadK()
	if err != nil {
		return
	}
	if !k && m.vstatus.CanCloseContactors() {
		m.lastSOC = 0
		m.enter(PreCharge, now)
	}
}

// stepPreCharge: assert D2, track SoC-to-voltage, close C1 then C2 once
// volts_equal and the EV confirms contactors closed and charging enabled
// (P5). 10s timeout -> Teardown.
func (m *Machine) stepPreCharge(now time.Time) {
	_ = m.gpio.Write(gpioio.D2, true)

	if now.Sub(m.enteredAt) >= preChargeTimeout {
		m.log.Warnw("PreCharge timeout")
		m.enterTeardown(now)
		return
	}

	soc := int(m.vstatus.StateOfChargePct)
	if soc != m.lastSOC && soc >= 10 && soc <= 100 {
		target := setpoint.SoCToVoltage(soc, float64(m.vehicle.MinBatteryVoltageV), float64(m.vehicle.MaxBatteryVoltageV))
		m.conv.Command(converter.Command{Kind: converter.CmdSetVolts, Value: target})
		m.lastSOC = soc
	}

	snap := m.conv.Snapshot()
	if snap.VoltsEqual() && !m.vstatus.ContactorsOpen && m.vstatus.VehicleChargingEnabled {
		_ = m.gpio.Write(gpioio.C1, true)
		_ = m.gpio.Write(gpioio.C2, true)
		m.status.ChargerStopControl = false
		m.status.StationActive = true
		m.status.ConnectorLock = true // 0x05
		m.enter(Active, now)
	}
}

// stepActive: station_active=1, recompute the setpoint each tick via the
// controller matching the current mode, route mid-flight mode changes.
func (m *Machine) stepActive(now time.Time) {
	if !m.vstatus.VehicleChargingEnabled {
		m.log.Infow("EV stopped, tearing down")
		m.enterTeardown(now)
		return
	}

	m.status.StationActive = true
	m.status.RemainingTime1min = 60

	soc := int(m.vstatus.StateOfChargePct)
	var sp float64
	var stop bool

	switch m.mode.Kind {
	case ModeCharge:
		cap := m.mode.Params.AmpsCap
		if cap <= 0 || cap > maxAmps {
			cap = maxAmps
		}
		if m.mode.Params.Eco {
			sp = m.meterFollow.MeterFollow(m.lastMeterKW, m.conv.Snapshot().DCOutputV, float64(m.v2x.MaximumDischargeCurrentA), float64(m.vstatus.ChargingCurrentRequestA), soc, true)
		} else {
			sp, stop = setpoint.VehicleTracking(cap, float64(m.vstatus.ChargingCurrentRequestA), soc, m.mode.Params.SocLimit)
		}
	case ModeDischarge:
		cap := m.mode.Params.AmpsCap
		if cap <= 0 || cap > maxAmps {
			cap = maxAmps
		}
		sp, stop = setpoint.Discharge(cap, float64(m.v2x.MaximumDischargeCurrentA), soc, m.mode.Params.SocLimit)
	case ModeV2h:
		sp = m.meterFollow.MeterFollow(m.lastMeterKW, m.conv.Snapshot().DCOutputV, float64(m.v2x.MaximumDischargeCurrentA), float64(m.vstatus.ChargingCurrentRequestA), soc, false)
	default:
		m.enterTeardown(now)
		return
	}

	if stop {
		m.status.ChargerStopControl = true
	}

	if sp >= 0 {
		m.conv.Command(converter.Command{Kind: converter.CmdSetAmps, Value: sp})
	} else {
		m.conv.Command(converter.Command{Kind: converter.CmdSetAmps, Value: -sp})
	}

	if m.status.ChargerStopControl {
		m.enterTeardown(now)
	}
}

// stepTeardown: open C1 then C2, wait for output voltage to collapse, then
// de-energize the plug lock and return to Idle (spec §4.5).
func (m *Machine) stepTeardown(now time.Time) {
	m.status.ChargerStopControl = true
	m.status.ConnectorLock = true // 0x24

	if !m.contactorsOpened {
		_ = m.gpio.Write(gpioio.C1, false)
		_ = m.gpio.Write(gpioio.C2, false)
		m.contactorsOpened = true
		return
	}

	if m.conv.Snapshot().DCOutputV >= teardownVoltsThresholdV {
		return
	}

	_ = m.gpio.Write(gpioio.PlugLock, false)
	_ = m.gpio.AllLow()
	m.status = protocol.StationStatusIdle()
	m.contactorsOpened = false
	m.preEnergizeIssued = false
	m.lockPlugConfirmed = false
	m.mode = OperationMode{Kind: ModeIdle}
	m.enter(Idle, now)
}
