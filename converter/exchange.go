package converter

import (
	"context"
	"time"

	"github.com/rand12345/beaglebone-v2h/errcode"
	"github.com/rand12345/beaglebone-v2h/protocol"
)

// responseTimeout is the per-request wait before a request is considered
// unanswered (spec §4.3: 100ms response timeout -> CanBusRxTimeout).
const responseTimeout = 100 * time.Millisecond

// exchange sends one SDO request and waits for the matching response
// (same register, cob-id in), discarding frames for other registers that
// arrive interleaved on the shared input channel.
func (d *Driver) exchange(ctx context.Context, req protocol.SDOFrame) (protocol.SDOFrame, error) {
	if err := d.tr.Send(protocol.SDOCobIDOut, protocol.EncodeSDO(req)); err != nil {
		return protocol.SDOFrame{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, responseTimeout)
	defer cancel()

	for {
		id, data, err := d.tr.Recv(cctx)
		if err != nil {
			return protocol.SDOFrame{}, &errcode.E{C: errcode.CanRxTimeout, Op: "exchange", Err: err}
		}
		resp, err := protocol.DecodeSDO(id, data[:])
		if err != nil {
			continue // not an SDO frame, keep waiting
		}
		if resp.Reg != req.Reg {
			continue // answer to an in-flight request from a different register
		}
		return resp, nil
	}
}

// retryExchange retries exchange up to attempts times, each with its own
// responseTimeout window, used during driver init where the converter may
// still be booting (spec §4.3: retry 10 times per init step).
func (d *Driver) retryExchange(ctx context.Context, req protocol.SDOFrame, attempts int) (protocol.SDOFrame, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := d.exchange(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return protocol.SDOFrame{}, ctx.Err()
		default:
		}
	}
	return protocol.SDOFrame{}, lastErr
}
