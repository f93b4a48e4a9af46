package converter

import (
	"context"

	"github.com/brutella/can"
	"github.com/rand12345/beaglebone-v2h/errcode"
)

// CANTransport is the production Transport, backed by SocketCAN via
// github.com/brutella/can (grounded on the CANopen reference in the
// examples pack, e4025d69_samsamfire-gocanopen__emergency.go, which uses
// the same library for its bus binding). brutella/can is callback-driven
// (Bus.SubscribeFunc), so incoming frames are fanned into a buffered
// channel that Recv reads from with context cancellation.
type CANTransport struct {
	bus *can.Bus
	rx  chan can.Frame
}

// NewCANTransport opens SocketCAN interface ifName (e.g. "can0") and starts
// the bus's receive loop in the background.
func NewCANTransport(ifName string) (*CANTransport, error) {
	bus, err := can.NewBusForInterfaceWithName(ifName)
	if err != nil {
		return nil, &errcode.E{C: errcode.CanRxTimeout, Op: "open:" + ifName, Err: err}
	}
	t := &CANTransport{bus: bus, rx: make(chan can.Frame, 32)}
	bus.SubscribeFunc(func(frm can.Frame) {
		select {
		case t.rx <- frm:
		default:
			// drop; the driver will see a CanRxTimeout and retry next tick
		}
	})
	go func() {
		_ = bus.ConnectAndPublish()
	}()
	return t, nil
}

// Send transmits an 8-byte standard frame.
func (t *CANTransport) Send(id uint32, data [8]byte) error {
	frm := can.Frame{ID: id, Length: 8, Data: data}
	if err := t.bus.Publish(frm); err != nil {
		return &errcode.E{C: errcode.CanTxTimeout, Op: "send", Err: err}
	}
	return nil
}

// Recv blocks for the next received frame or ctx cancellation/deadline.
func (t *CANTransport) Recv(ctx context.Context) (uint32, [8]byte, error) {
	select {
	case frm := <-t.rx:
		return frm.ID, frm.Data, nil
	case <-ctx.Done():
		return 0, [8]byte{}, canRxTimeout()
	}
}

// Close releases the underlying SocketCAN socket.
func (t *CANTransport) Close() error {
	return t.bus.Disconnect()
}
