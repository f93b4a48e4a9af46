// Package gpioio implements the station's GPIO lines (spec §4.2): named
// boolean outputs for contactors/enables/interlocks and a single digital
// input for the vehicle K-line signal. Grounded on the original's
// chademo/state.rs pin constants and the teacher's services/hal GPIO
// adaptor shape, retargeted from TinyGo's machine.Pin to Linux GPIO via
// periph.io.
package gpioio

import (
	"sync"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Line names (spec §4.2).
const (
	D1       = "d1"
	D2       = "d2"
	C1       = "c1"
	C2       = "c2"
	PlugLock = "plug_lock"
	PreAC    = "pre_ac"
	Master   = "master"
)

// K is the single digital input: vehicle charge-signal, low-active.
const K = "k"

// PinConfig names the physical GPIO line backing each logical line.
type PinConfig struct {
	D1, D2, C1, C2, PlugLock, PreAC, Master, K string
}

// Lines holds the station's typed GPIO handles. Directions are fixed at
// construction: d1/d2/c1/c2/plug_lock/pre_ac default LOW, master defaults
// HIGH (spec §4.2).
type Lines struct {
	mu      sync.Mutex
	outputs map[string]gpio.PinIO
	input   gpio.PinIO
	state   map[string]bool
}

// Open resolves each named line via periph.io's global GPIO registry and
// sets initial directions/levels. Callers must have already called
// periph.io/x/host.Init() once per process.
func Open(cfg PinConfig) (*Lines, error) {
	l := &Lines{
		outputs: make(map[string]gpio.PinIO, 7),
		state:   make(map[string]bool, 7),
	}

	outputs := map[string]string{
		D1: cfg.D1, D2: cfg.D2, C1: cfg.C1, C2: cfg.C2,
		PlugLock: cfg.PlugLock, PreAC: cfg.PreAC, Master: cfg.Master,
	}
	for name, pinName := range outputs {
		p := gpioreg.ByName(pinName)
		if p == nil {
			return nil, &errcode.E{C: errcode.PinAccess, Op: "open", Msg: "unknown pin " + pinName}
		}
		initial := gpio.Low
		if name == Master {
			initial = gpio.High
		}
		if err := p.Out(initial); err != nil {
			return nil, &errcode.E{C: errcode.PinAccess, Op: "open:" + name, Err: err}
		}
		l.outputs[name] = p
		l.state[name] = initial == gpio.High
	}

	kp := gpioreg.ByName(cfg.K)
	if kp == nil {
		return nil, &errcode.E{C: errcode.PinAccess, Op: "open", Msg: "unknown pin " + cfg.K}
	}
	if err := kp.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, &errcode.E{C: errcode.PinAccess, Op: "open:k", Err: err}
	}
	l.input = kp

	return l, nil
}

// Write sets a named output line. Idempotent: calling Write with the
// current value is a no-op against the underlying pin.
func (l *Lines) Write(name string, on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.outputs[name]
	if !ok {
		return &errcode.E{C: errcode.PinAccess, Op: "write", Msg: "unknown line " + name}
	}
	if l.state[name] == on {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := p.Out(level); err != nil {
		return &errcode.E{C: errcode.PinAccess, Op: "write:" + name, Err: err}
	}
	l.state[name] = on
	return nil
}

// Read reports the last-commanded value of an output line (cheap, no bus
// transaction) for callers that need to know current state without
// tracking it themselves.
func (l *Lines) Read(name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.state[name]
	if !ok {
		return false, &errcode.E{C: errcode.PinAccess, Op: "read", Msg: "unknown line " + name}
	}
	return v, nil
}

// ReadK reads the vehicle K-line input, returning {0,1} as a bool (true =
// high) or PinAccess on failure.
func (l *Lines) ReadK() (bool, error) {
	if l.input == nil {
		return false, &errcode.E{C: errcode.PinAccess, Op: "read:k", Msg: "not opened"}
	}
	return bool(l.input.Read()), nil
}

// AllLow drives every output line except master low, used on Quit / fatal teardown to
// guarantee a known-safe state regardless of prior session state.
func (l *Lines) AllLow() error {
	var firstErr error
	for _, name := range []string{D1, D2, C1, C2, PlugLock, PreAC} {
		if err := l.Write(name, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
