// Package meter implements the energy-meter poller (spec §1 "out of
// scope... named interface only", SPEC_FULL §10.4): a Modbus-over-TCP
// polling loop that reads a single shared kW reading (positive = import
// from grid) the V2H/Eco setpoint controller follows. Grounded on the
// original's data_io/meter.rs poll loop (function code 0x04, input
// register 0x0c) and built with github.com/goburrow/modbus, the pack's
// Modbus client.
package meter

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/rand12345/beaglebone-v2h/errcode"
)

const (
	pollPeriod    = time.Second
	readTimeout   = 400 * time.Millisecond
	powerRegister = 0x0c // input register: import power, float32, big-endian
)

// Reading is a single-writer, many-reader shared value (spec §5: "Meter
// value: single-writer (meter poller), many readers").
type Reading struct {
	mu      sync.RWMutex
	kw      float64
	offline bool
}

// KW returns the last known reading and whether the meter is currently
// considered offline (spec §7 MeterOffline policy: the V2H controller
// freezes its setpoint while offline, which its hysteresis rule does
// naturally once the reading stops changing).
func (r *Reading) KW() (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kw, r.offline
}

func (r *Reading) set(kw float64, offline bool) {
	r.mu.Lock()
	r.kw, r.offline = kw, offline
	r.mu.Unlock()
}

// Poller owns the Modbus TCP connection and the shared Reading.
type Poller struct {
	client modbus.Client
	handler *modbus.TCPClientHandler
	reading *Reading
	log     *zap.SugaredLogger
}

// New dials addr (host:port) and returns a Poller for unit id slaveID.
func New(addr string, slaveID byte, log *zap.SugaredLogger) *Poller {
	h := modbus.NewTCPClientHandler(addr)
	h.Timeout = readTimeout
	h.SlaveId = slaveID
	return &Poller{
		client:  modbus.NewClient(h),
		handler: h,
		reading: &Reading{},
		log:     log,
	}
}

// Reading exposes the shared reading to other components (setpoint
// controllers, telemetry, API).
func (p *Poller) Reading() *Reading { return p.reading }

// Run polls at 1s cadence until ctx is done (spec §5 concurrency table).
func (p *Poller) Run(ctx context.Context) error {
	if err := p.handler.Connect(); err != nil {
		return &errcode.E{C: errcode.MeterOffline, Op: "connect", Err: err}
	}
	defer p.handler.Close()

	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	regs, err := p.client.ReadInputRegisters(powerRegister, 2)
	if err != nil || len(regs) != 4 {
		p.log.Debugw("meter read failed", "err", err)
		p.reading.set(0, true)
		return
	}
	bits := binary.BigEndian.Uint32(regs)
	kw := float64(math.Float32frombits(bits))
	p.reading.set(kw, false)
}
