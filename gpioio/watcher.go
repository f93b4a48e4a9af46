package gpioio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Edge identifies a transition direction for a watched input.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// Event is delivered from the watcher goroutine to a consumer (the
// panel's button handler).
type Event struct {
	Name  string
	Level bool
	Edge  Edge
	TS    time.Time
}

// watch tracks debounce/level state for one registered input. Adapted
// from the teacher's services/hal/gpio_worker.go gpioIRQWorker, retargeted
// from a TinyGo ISR-driven model to periph.io's blocking WaitForEdge, which
// is itself run in its own goroutine per input (there is no shared ISR
// context on Linux to protect, so the non-blocking-queue discipline is kept
// only at the output side, where a slow consumer must never stall a GPIO
// edge-wait goroutine).
type watch struct {
	name      string
	pin       gpio.PinIO
	edge      Edge
	debounce  time.Duration
	lastLevel bool
	lastEvent time.Time
	cancel    func()
}

// Watcher fans debounced edge events from any number of registered inputs
// into a single output channel.
type Watcher struct {
	outQ    chan Event
	mu      sync.Mutex
	inputs  map[string]*watch
	drops   uint32
}

// NewWatcher returns a Watcher with the given output buffer size.
func NewWatcher(outBuf int) *Watcher {
	if outBuf <= 0 {
		outBuf = 16
	}
	return &Watcher{outQ: make(chan Event, outBuf), inputs: map[string]*watch{}}
}

// Events returns the channel of debounced edge events.
func (w *Watcher) Events() <-chan Event { return w.outQ }

// Register watches pin for the given edge with a debounce window, starting
// its own goroutine that blocks on WaitForEdge. The returned func cancels
// the watch.
func (w *Watcher) Register(ctx context.Context, name string, pin gpio.PinIO, edge Edge, debounce time.Duration) func() {
	wctx, cancel := context.WithCancel(ctx)
	wh := &watch{name: name, pin: pin, edge: edge, debounce: debounce, lastLevel: bool(pin.Read())}

	w.mu.Lock()
	w.inputs[name] = wh
	w.mu.Unlock()

	go func() {
		for {
			select {
			case <-wctx.Done():
				return
			default:
			}
			if !pin.WaitForEdge(100 * time.Millisecond) {
				continue // timeout, recheck ctx
			}
			w.handle(name, bool(pin.Read()))
		}
	}()

	return func() {
		cancel()
		w.mu.Lock()
		delete(w.inputs, name)
		w.mu.Unlock()
	}
}

func (w *Watcher) handle(name string, level bool) {
	w.mu.Lock()
	wh := w.inputs[name]
	w.mu.Unlock()
	if wh == nil {
		return
	}

	now := time.Now()
	if !wh.lastEvent.IsZero() && now.Sub(wh.lastEvent) < wh.debounce {
		return
	}

	var e Edge
	switch {
	case !wh.lastLevel && level:
		e = EdgeRising
	case wh.lastLevel && !level:
		e = EdgeFalling
	default:
		return
	}

	if wh.edge == EdgeBoth || wh.edge == e {
		select {
		case w.outQ <- Event{Name: name, Level: level, Edge: e, TS: now}:
		default:
			atomic.AddUint32(&w.drops, 1)
		}
	}

	wh.lastLevel = level
	wh.lastEvent = now
}

// Drops reports the number of events discarded because the output channel
// was full (a slow consumer).
func (w *Watcher) Drops() uint32 { return atomic.LoadUint32(&w.drops) }
