package converter

import (
	"context"

	"github.com/rand12345/beaglebone-v2h/errcode"
)

// Transport abstracts the CAN interface the converter driver speaks over
// ("can0"). A real transport is backed by github.com/brutella/can
// (SocketCAN); tests use a fake in-memory transport.
type Transport interface {
	Send(id uint32, data [8]byte) error
	// Recv blocks for the next received frame or until ctx is done.
	Recv(ctx context.Context) (id uint32, data [8]byte, err error)
}

// canRxTimeout wraps context.DeadlineExceeded/Canceled into the station's
// error taxonomy.
func canRxTimeout() error {
	return &errcode.E{C: errcode.CanRxTimeout, Op: "converter.recv"}
}
