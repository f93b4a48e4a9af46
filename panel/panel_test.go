package panel

import (
	"context"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/rand12345/beaglebone-v2h/gpioio"
	"github.com/rand12345/beaglebone-v2h/session"
)

// fakeBus records every I2C transaction so ShowMode's register/byte
// encoding can be asserted without real hardware.
type fakeBus struct {
	addr uint16
	w    []byte
}

func (b *fakeBus) String() string { return "fakeBus" }
func (b *fakeBus) Halt() error    { return nil }
func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.addr = addr
	b.w = append([]byte(nil), w...)
	return nil
}

func TestShowModeWritesLEDBit(t *testing.T) {
	cases := []struct {
		mode session.Mode
		want byte
	}{
		{session.ModeIdle, 1 << 0},
		{session.ModeV2h, 1 << 1},
		{session.ModeCharge, 1 << 2},
		{session.ModeDischarge, 1 << 3},
	}
	for _, c := range cases {
		bus := &fakeBus{}
		p := &Panel{dev: &i2c.Dev{Addr: 0x60, Bus: bus}}
		if err := p.ShowMode(c.mode); err != nil {
			t.Fatalf("ShowMode(%v): %v", c.mode, err)
		}
		if len(bus.w) != 3 {
			t.Fatalf("ShowMode(%v): wrote %d bytes, want 3", c.mode, len(bus.w))
		}
		if bus.w[0] != regLS0 {
			t.Errorf("ShowMode(%v): register = %#x, want %#x", c.mode, bus.w[0], regLS0)
		}
		if bus.w[1] != c.want {
			t.Errorf("ShowMode(%v): LS0 = %#x, want %#x", c.mode, bus.w[1], c.want)
		}
	}
}

// fakePin is a minimal gpio.PinIO that lets a test drive WaitForEdge/Read
// deterministically, standing in for the real button pin gpioreg.ByName
// resolves on hardware.
type fakePin struct {
	level  gpio.Level
	edgeCh chan gpio.Level
}

func newFakePin() *fakePin {
	return &fakePin{level: gpio.High, edgeCh: make(chan gpio.Level, 1)}
}

func (p *fakePin) String() string     { return "fakePin" }
func (p *fakePin) Halt() error        { return nil }
func (p *fakePin) Name() string       { return "fakePin" }
func (p *fakePin) Number() int        { return 0 }
func (p *fakePin) Function() string   { return "" }
func (p *fakePin) Pull() gpio.Pull    { return gpio.PullUp }
func (p *fakePin) DefaultPull() gpio.Pull { return gpio.PullUp }
func (p *fakePin) In(gpio.Pull, gpio.Edge) error { return nil }
func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	return nil
}
func (p *fakePin) PWM(gpio.Duty, physic.Frequency) error { return nil }
func (p *fakePin) Read() gpio.Level                      { return p.level }
func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case lvl := <-p.edgeCh:
		p.level = lvl
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakePin) press() { p.edgeCh <- gpio.Low }

func TestRunDispatchesOnPress(t *testing.T) {
	pin := newFakePin()
	pressed := make(chan struct{}, 1)
	p := &Panel{watcher: gpioio.NewWatcher(4), button: pin, onPress: func() { pressed <- struct{}{} }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	pin.press()

	select {
	case <-pressed:
	case <-time.After(2 * time.Second):
		t.Fatal("onPress was not called within timeout")
	}
}
