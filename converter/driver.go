// Package converter implements the converter driver (spec §4.3): the SDO
// dialogue with the bidirectional DC/DC converter over "can0", its
// Offline/Init/Online lifecycle, steady-state 10Hz polling, and the
// setpoint/enable command surface the session and setpoint controllers
// drive it through. Grounded on the teacher's Trigger/Collect
// measureWorker pattern (services/hal/worker.go) for the poll loop shape,
// and on the original's pre_charger/{mod.rs,can.rs,pre_thread.rs} for the
// register sequencing and failure thresholds.
package converter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"github.com/rand12345/beaglebone-v2h/protocol"
	"github.com/rand12345/beaglebone-v2h/thermal"
)

// CmdKind identifies a command accepted on the driver's command channel.
type CmdKind int

const (
	CmdSetVolts CmdKind = iota
	CmdSetAmps
	CmdEnable
	CmdDisable
	CmdShutdown
)

// Command is posted to the driver by the session/setpoint layer; Value is
// only meaningful for CmdSetVolts/CmdSetAmps.
type Command struct {
	Kind  CmdKind
	Value float64
}

// consecutiveTxFailureLimit is the number of back-to-back Send failures
// that escalates a transient CAN error to a surfaced CanTxTimeout (spec
// §4.3 failure semantics).
const consecutiveTxFailureLimit = 3

// pollPeriod is the steady-state poll cadence.
const pollPeriod = 100 * time.Millisecond

// Driver owns the converter's CAN transport and is the sole writer of its
// Snapshot (spec §4.7 single-writer discipline, applied at the source).
type Driver struct {
	tr     Transport
	thermo *thermal.Controller
	log    *zap.SugaredLogger

	cmds  chan Command
	store snapshotStore
}

// NewDriver returns a Driver ready to Run. cmdBuf sizes the command
// channel; callers that only issue occasional setpoint changes can pass a
// small buffer (e.g. 4).
func NewDriver(tr Transport, log *zap.SugaredLogger, cmdBuf int) *Driver {
	if cmdBuf <= 0 {
		cmdBuf = 4
	}
	return &Driver{
		tr:     tr,
		thermo: thermal.NewController(),
		log:    log,
		cmds:   make(chan Command, cmdBuf),
	}
}

// Snapshot returns the converter's current observed state.
func (d *Driver) Snapshot() Snapshot { return d.store.get() }

// Command enqueues a command for the driver's loop. Non-blocking: a full
// channel drops the command and logs it, since a setpoint that misses one
// tick will be resent on the next controller pass.
func (d *Driver) Command(c Command) {
	select {
	case d.cmds <- c:
	default:
		d.log.Warnw("converter command dropped, channel full", "kind", c.Kind)
	}
}

// Run drives the converter through its init sequence and then its
// steady-state poll/command loop until ctx is cancelled, at which point it
// performs the shutdown sequence before returning.
func (d *Driver) Run(ctx context.Context) error {
	d.store.set(Snapshot{Lifecycle: Init})

	if err := d.initSequence(ctx); err != nil {
		d.store.set(Snapshot{Lifecycle: Offline})
		return err
	}

	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	txFailures := 0
	outputGroup := true // alternates between output-group and setpoint-group polls

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil

		case c := <-d.cmds:
			if c.Kind == CmdShutdown {
				d.shutdown()
				return nil
			}
			if err := d.applyCommand(ctx, c); err != nil {
				d.log.Warnw("converter command failed", "kind", c.Kind, "err", err)
			}

		case <-ticker.C:
			var err error
			if outputGroup {
				err = d.pollOutputs(ctx)
			} else {
				err = d.pollSetpoints(ctx)
			}
			outputGroup = !outputGroup

			if err != nil {
				if errcode.Of(err) == errcode.CanRxTimeout {
					// Unanswered request: keep the previous snapshot and go on.
					d.log.Debugw("converter poll response timeout", "err", err)
					continue
				}
				txFailures++
				d.log.Debugw("converter poll failed", "err", err, "consecutive", txFailures)
				if txFailures >= consecutiveTxFailureLimit {
					d.log.Errorw("converter CAN tx failing", "consecutive", txFailures)
					return &errcode.E{C: errcode.CanTxTimeout, Op: "converter.poll", Err: err}
				}
				continue
			}
			txFailures = 0

			snap := d.store.get()
			snap.FanDutyPct = d.thermo.Update(time.Now(), snap.TempC)
			d.store.set(snap)
		}
	}
}

// initSequence reads identity and status, then enables the converter and
// waits for it to confirm, bringing the lifecycle to Online (spec §4.3).
func (d *Driver) initSequence(ctx context.Context) error {
	for _, reg := range []uint16{protocol.RegIdentVendor, protocol.RegIdentProduct, protocol.RegIdentVersion} {
		if _, err := d.retryExchange(ctx, protocol.ReadRequest(reg), 10); err != nil {
			return &errcode.E{C: errcode.PreInitFailed, Op: "identify", Err: err}
		}
	}
	if _, err := d.retryExchange(ctx, protocol.ReadRequest(protocol.RegStatus), 10); err != nil {
		return &errcode.E{C: errcode.PreInitFailed, Op: "status", Err: err}
	}

	if _, err := d.retryExchange(ctx, protocol.WriteRequest(protocol.RegEnable, 1), 10); err != nil {
		return &errcode.E{C: errcode.PreInitFailed, Op: "enable", Err: err}
	}

	resp, err := d.retryExchange(ctx, protocol.ReadRequest(protocol.RegEnable), 10)
	if err != nil {
		return &errcode.E{C: errcode.PreInitFailed, Op: "enable_confirm", Err: err}
	}
	if resp.RawVal == 0 {
		return &errcode.E{C: errcode.PreInitFailed, Op: "enable_confirm", Msg: "converter did not confirm enable"}
	}

	d.store.set(Snapshot{Lifecycle: Online, Enabled: true})
	return nil
}

// pollOutputs refreshes the output-measurement register group (spec §4.3):
// temperature, AC output voltage/current, DC output voltage/current, DC bus
// voltage, status, enabled, and ping.
func (d *Driver) pollOutputs(ctx context.Context) error {
	temp, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegTemp))
	if err != nil {
		return err
	}
	acv, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegACOutputV))
	if err != nil {
		return err
	}
	aca, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegACOutputA))
	if err != nil {
		return err
	}
	dcv, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegDCOutputV))
	if err != nil {
		return err
	}
	dca, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegDCOutputA))
	if err != nil {
		return err
	}
	busv, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegDCBusV))
	if err != nil {
		return err
	}
	st, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegStatus))
	if err != nil {
		return err
	}
	en, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegEnable))
	if err != nil {
		return err
	}
	ping, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegPing))
	if err != nil {
		return err
	}

	snap := d.store.get()
	snap.TempC = temp.PhysicalValue()
	snap.ACOutputV = acv.PhysicalValue()
	snap.ACOutputA = aca.PhysicalValue()
	snap.DCOutputV = dcv.PhysicalValue()
	snap.DCOutputA = dca.PhysicalValue()
	snap.DCBusV = busv.PhysicalValue()
	snap.StatusWord = st.RawVal
	snap.Enabled = en.RawVal != 0
	snap.Ping = ping.RawVal
	d.store.set(snap)
	return nil
}

// pollSetpoints refreshes the setpoint register group (spec §4.3): the
// converter's echoed DC volts/amps setpoints.
func (d *Driver) pollSetpoints(ctx context.Context) error {
	sv, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegVoltsSetpoint))
	if err != nil {
		return err
	}
	sa, err := d.exchange(ctx, protocol.ReadRequest(protocol.RegAmpsSetpoint))
	if err != nil {
		return err
	}

	snap := d.store.get()
	snap.DCSetpointV = sv.PhysicalValue()
	snap.DCSetpointA = sa.PhysicalValue()
	d.store.set(snap)
	return nil
}

// applyCommand writes the register corresponding to c.
func (d *Driver) applyCommand(ctx context.Context, c Command) error {
	switch c.Kind {
	case CmdSetVolts:
		_, err := d.exchange(ctx, protocol.WriteRequestPhysical(protocol.RegVoltsSetpoint, c.Value))
		return err
	case CmdSetAmps:
		_, err := d.exchange(ctx, protocol.WriteRequestPhysical(protocol.RegAmpsSetpoint, c.Value))
		return err
	case CmdEnable:
		_, err := d.exchange(ctx, protocol.WriteRequest(protocol.RegEnable, 1))
		return err
	case CmdDisable:
		_, err := d.exchange(ctx, protocol.WriteRequest(protocol.RegEnable, 0))
		return err
	default:
		return nil
	}
}

// shutdown disables the converter and drops the fan to idle, best-effort
// (spec §4.3: fan off, Offline, AC contactor left to the session machine).
func (d *Driver) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()

	if _, err := d.exchange(sctx, protocol.WriteRequest(protocol.RegEnable, 0)); err != nil {
		d.log.Warnw("converter shutdown disable failed", "err", err)
	}

	snap := d.store.get()
	snap.Lifecycle = Offline
	snap.Enabled = false
	snap.FanDutyPct = 0
	d.store.set(snap)
}
