// Package serialframer implements the serial framer (C3): a
// fixed-capacity ring buffer fed one byte at a time from the UART
// receive path, coalesced into a single logical frame by an
// inter-byte quiescence timer.
//
// PutByte plays the role of the UART RX ISR of spec.md §5: it must be
// short, does no flash access, and only touches the ring indices and
// resets the frame timer. The timer callback plays the role of the
// frame-boundary timer ISR: it drains the ring into a contiguous frame
// buffer and hands it to the configured handler, which is where C4
// synchronously calls into flash program/erase.
package serialframer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Capacity is the ring buffer's fixed size, per spec.md §4.3. It must
// exceed the worst-case UART burst that can arrive during one bank
// erase.
const Capacity = 1200

// DefaultFrameTimeout is the inter-byte silence window that closes a
// frame, absent an override. spec.md §9 calls out that this is
// baud/block-size dependent and should be parameterized rather than
// hard-coded.
const DefaultFrameTimeout = 20 * time.Millisecond

// Handler receives one coalesced frame. It runs on the frame-timer's
// goroutine, so it may block (e.g. on a flash erase) without dropping
// incoming bytes -- they simply queue in the ring buffer, per spec.md
// §5's discussion of ordering guarantees during flash operations.
type Handler func(frame []byte)

// Framer implements the ring buffer and timer-driven coalescing.
type Framer struct {
	mu    sync.Mutex
	ring  [Capacity]byte
	front int
	count int

	timeout time.Duration
	timer   *time.Timer
	handler Handler

	overflowCount int
}

// Option configures a Framer.
type Option func(*Framer)

// WithFrameTimeout overrides DefaultFrameTimeout.
func WithFrameTimeout(d time.Duration) Option {
	return func(f *Framer) { f.timeout = d }
}

// New creates a Framer that calls handler with each coalesced frame.
func New(handler Handler, opts ...Option) *Framer {
	f := &Framer{
		timeout: DefaultFrameTimeout,
		handler: handler,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.timer = time.AfterFunc(f.timeout, f.onTimeout)
	f.timer.Stop()
	return f
}

// PutByte enqueues one received byte and resets the frame-boundary
// timer. On overflow the byte is silently dropped, per spec.md §4.3 --
// the protocol FSM's retry/NAK semantics recover the loss.
func (f *Framer) PutByte(b byte) {
	f.mu.Lock()
	if f.count == Capacity {
		f.overflowCount++
		f.mu.Unlock()
		logrus.WithField("overflow_count", f.overflowCount).Debug("serialframer: ring buffer overflow, byte dropped")
		return
	}

	rear := (f.front + f.count) % Capacity
	f.ring[rear] = b
	f.count++
	f.mu.Unlock()

	f.timer.Reset(f.timeout)
}

// onTimeout runs on the frame-boundary timer's own goroutine (there is
// no new byte since the last reset) and drains the ring into one
// contiguous frame buffer for the handler.
func (f *Framer) onTimeout() {
	frame := f.drain()
	if len(frame) == 0 {
		return
	}
	f.handler(frame)
}

// drain copies out everything currently in the ring, in arrival order,
// and empties it.
func (f *Framer) drain() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == 0 {
		return nil
	}

	frame := make([]byte, f.count)
	for i := 0; i < f.count; i++ {
		frame[i] = f.ring[(f.front+i)%Capacity]
	}
	f.front = 0
	f.count = 0
	return frame
}

// Stop releases the frame-boundary timer. Call it when the framer is
// no longer needed (tests, or the host build's clean shutdown path).
func (f *Framer) Stop() {
	f.timer.Stop()
}

// OverflowCount reports how many bytes have been silently dropped due
// to ring buffer overflow since the Framer was created.
func (f *Framer) OverflowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overflowCount
}
