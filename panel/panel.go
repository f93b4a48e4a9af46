// Package panel implements the operator LED/button panel driver (spec §1
// "out of scope... named interface only", SPEC_FULL §10.2): an I2C LED
// driver showing the current mode and a debounced mode-select button.
// Grounded on the original's data_io/panel.rs and built with
// periph.io/x/conn/v3/i2c against a PCA9552-style 16-output LED driver,
// reusing gpioio.Watcher for the button's debounce logic rather than
// duplicating it.
package panel

import (
	"context"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"github.com/rand12345/beaglebone-v2h/gpioio"
	"github.com/rand12345/beaglebone-v2h/session"
)

// PCA9552 register map (subset): LS0 selects per-LED on/off/blink state
// for the mode bank.
const regLS0 = 0x06

// ledBit maps a mode to the LED bit it lights, mirroring the original's
// discrete lookup table rather than a computed ramp (there is no PWM
// animation here, just a fixed bit per mode).
var ledBit = map[session.Mode]byte{
	session.ModeIdle:      0,
	session.ModeV2h:       1,
	session.ModeCharge:    2,
	session.ModeDischarge: 3,
}

// Panel drives the LED bar over I2C and watches a mode-select button.
type Panel struct {
	dev     *i2c.Dev
	watcher *gpioio.Watcher
	button  gpio.PinIO
	onPress func()
}

// Open resolves the I2C bus busName and device address addr, and arms a
// debounced watch on the button pin named buttonPin.
func Open(busName string, addr uint16, buttonPin string, onPress func()) (*Panel, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, &errcode.E{C: errcode.PanelI2C, Op: "open_bus", Err: err}
	}
	dev := &i2c.Dev{Addr: addr, Bus: bus}

	pin := gpioreg.ByName(buttonPin)
	if pin == nil {
		return nil, &errcode.E{C: errcode.PanelI2C, Op: "open_button", Msg: "unknown pin " + buttonPin}
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, &errcode.E{C: errcode.PanelI2C, Op: "button_in", Err: err}
	}

	p := &Panel{dev: dev, watcher: gpioio.NewWatcher(4), button: pin, onPress: onPress}
	return p, nil
}

// Run arms the button watcher and dispatches onPress on every debounced
// falling edge, until ctx is done.
func (p *Panel) Run(ctx context.Context) {
	cancel := p.watcher.Register(ctx, "panel_button", p.button, gpioio.EdgeFalling, 50*time.Millisecond)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.watcher.Events():
			if ev.Edge == gpioio.EdgeFalling && p.onPress != nil {
				p.onPress()
			}
		}
	}
}

// ShowMode lights the LED bit for mode and clears the others.
func (p *Panel) ShowMode(m session.Mode) error {
	bit, ok := ledBit[m]
	if !ok {
		bit = 0
	}
	ls0 := byte(1) << bit
	return p.write(regLS0, []byte{ls0, 0})
}

func (p *Panel) write(reg byte, data []byte) error {
	buf := append([]byte{reg}, data...)
	if err := p.dev.Tx(buf, nil); err != nil {
		return &errcode.E{C: errcode.PanelI2C, Op: "write", Err: err}
	}
	return nil
}
