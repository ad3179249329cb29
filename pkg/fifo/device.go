package fifo

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/haivivi/globalfifo/pkg/buffer"
	"github.com/haivivi/globalfifo/pkg/notify"
)

// Device is one bounded FIFO instance.
//
// All fields below mu are guarded by it. readable is signaled when data is
// added, writable when space is freed.
type Device struct {
	index  int
	logger *slog.Logger

	mu       sync.Mutex
	readable *sync.Cond
	writable *sync.Cond
	drained  *sync.Cond

	buf      *buffer.Linear
	subs     []notify.Target
	polls    waitQueue
	closed   bool
	sleepers int

	bytesRead    uint64
	bytesWritten uint64
	raised       uint64

	// undelivered counts subscriber deliveries that failed. Broadcast runs
	// without mu, so it is updated atomically.
	undelivered atomic.Uint64
}

func newDevice(index, capacity int, logger *slog.Logger) *Device {
	d := &Device{
		index:  index,
		logger: logger,
		buf:    buffer.NewLinear(capacity),
	}
	d.readable = sync.NewCond(&d.mu)
	d.writable = sync.NewCond(&d.mu)
	d.drained = sync.NewCond(&d.mu)
	return d
}

// Index returns the device's position in its registry.
func (d *Device) Index() int {
	return d.index
}

// Cap returns the fixed buffer capacity.
func (d *Device) Cap() int {
	return d.buf.Cap()
}

// Len returns the number of buffered bytes.
func (d *Device) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Len()
}

// Read removes up to len(p) bytes from the front of the FIFO into p.
//
// When the FIFO is empty, Read fails with ErrWouldBlock if nonBlocking is
// set, and otherwise sleeps until data arrives. If ctx is canceled while
// sleeping Read returns ErrInterrupted and nothing is consumed. A successful
// Read always returns n > 0 unless p is empty.
func (d *Device) Read(ctx context.Context, p []byte, nonBlocking bool) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	for d.buf.Empty() {
		if nonBlocking {
			d.mu.Unlock()
			return 0, ErrWouldBlock
		}
		if err := d.waitLocked(ctx, d.readable); err != nil {
			d.mu.Unlock()
			if errors.Is(err, ErrInterrupted) {
				d.logger.Debug("fifo: wait for reading interrupted", "dev", d.index)
			}
			return 0, err
		}
	}

	n := d.buf.Consume(p)
	d.bytesRead += uint64(n)
	length := d.buf.Len()
	d.writable.Broadcast()
	d.polls.notify(EventOut)
	d.mu.Unlock()

	d.logger.Debug("fifo: read", "dev", d.index, "n", n, "len", length)
	return n, nil
}

// Write appends as much of p as fits and returns the number of bytes stored.
// Bytes that do not fit are dropped; a short count is not an error.
//
// When the FIFO is full, Write fails with ErrWouldBlock if nonBlocking is
// set, and otherwise sleeps until space is freed. Cancellation behaves as in
// Read. Every Write that stores at least one byte raises a DataAvailable
// event to all current subscribers.
func (d *Device) Write(ctx context.Context, p []byte, nonBlocking bool) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	for d.buf.Full() {
		if nonBlocking {
			d.mu.Unlock()
			return 0, ErrWouldBlock
		}
		if err := d.waitLocked(ctx, d.writable); err != nil {
			d.mu.Unlock()
			if errors.Is(err, ErrInterrupted) {
				d.logger.Debug("fifo: wait for writing interrupted", "dev", d.index)
			}
			return 0, err
		}
	}

	n := d.buf.Append(p)
	d.bytesWritten += uint64(n)
	length := d.buf.Len()
	d.readable.Broadcast()
	d.polls.notify(EventIn)

	var targets []notify.Target
	if n > 0 {
		targets = slices.Clone(d.subs)
		d.raised++
	}
	d.mu.Unlock()

	d.logger.Debug("fifo: write", "dev", d.index, "n", n, "len", length)
	if len(targets) > 0 {
		delivered := notify.Broadcast(targets, notify.NewEvent(d.index), d.logger)
		if failed := len(targets) - delivered; failed > 0 {
			d.undelivered.Add(uint64(failed))
		}
	}
	return n, nil
}

// Clear discards all buffered data and wakes blocked writers.
func (d *Device) Clear() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.buf.Reset()
	d.writable.Broadcast()
	d.polls.notify(EventOut)
	d.mu.Unlock()

	d.logger.Info("fifo: cleared", "dev", d.index)
	return nil
}

// Readiness reports which of the events in mask the device is ready for.
// EventHUp is reported regardless of mask once the device is closed.
func (d *Device) Readiness(mask EventMask) EventMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readinessLocked() & (mask | EventHUp)
}

func (d *Device) readinessLocked() EventMask {
	if d.closed {
		return EventHUp
	}
	var m EventMask
	if !d.buf.Empty() {
		m |= EventIn
	}
	if !d.buf.Full() {
		m |= EventOut
	}
	return m
}

// pollRegister checks readiness and, if nothing in mask is ready and w is
// not nil, enqueues w. Both happen under one lock acquisition.
func (d *Device) pollRegister(mask EventMask, w *Waiter) EventMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev := d.readinessLocked() & (mask | EventHUp)
	if ev == 0 && w != nil {
		d.polls.add(w, mask)
	}
	return ev
}

func (d *Device) pollUnregister(w *Waiter) {
	d.mu.Lock()
	d.polls.remove(w)
	d.mu.Unlock()
}

// Subscribe registers sub under id for DataAvailable events. Subscribing an
// existing id replaces its subscriber.
func (d *Device) Subscribe(id string, sub notify.Subscriber) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	for i := range d.subs {
		if d.subs[i].ID == id {
			d.subs[i].Sub = sub
			return nil
		}
	}
	d.subs = append(d.subs, notify.Target{ID: id, Sub: sub})
	return nil
}

// Unsubscribe removes id. Unknown ids are ignored.
func (d *Device) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = slices.DeleteFunc(d.subs, func(t notify.Target) bool {
		return t.ID == id
	})
}

// waitLocked sleeps on c until it is signaled, ctx is done or the device is
// closed. d.mu must be held; it is held again on return.
func (d *Device) waitLocked(ctx context.Context, c *sync.Cond) error {
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	stop := func() bool { return true }
	if ctx.Done() != nil {
		stop = context.AfterFunc(ctx, func() {
			d.mu.Lock()
			c.Broadcast()
			d.mu.Unlock()
		})
	}

	d.sleepers++
	c.Wait()
	d.sleepers--
	stop()

	if d.closed {
		if d.sleepers == 0 {
			d.drained.Broadcast()
		}
		return ErrClosed
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	return nil
}

// close marks the device closed, wakes every sleeper and poller, and
// returns once all sleepers have left waitLocked.
func (d *Device) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.subs = nil
	d.readable.Broadcast()
	d.writable.Broadcast()
	d.polls.notify(EventHUp)
	for d.sleepers > 0 {
		d.drained.Wait()
	}
}

// Stat is a point-in-time snapshot of a device.
type Stat struct {
	Index          int    `json:"index" yaml:"index" msgpack:"index"`
	Capacity       int    `json:"capacity" yaml:"capacity" msgpack:"capacity"`
	Len            int    `json:"len" yaml:"len" msgpack:"len"`
	Subscribers    int    `json:"subscribers" yaml:"subscribers" msgpack:"subscribers"`
	Pollers        int    `json:"pollers" yaml:"pollers" msgpack:"pollers"`
	BytesRead      uint64 `json:"bytes_read" yaml:"bytes_read" msgpack:"bytes_read"`
	BytesWritten   uint64 `json:"bytes_written" yaml:"bytes_written" msgpack:"bytes_written"`
	Notifications  uint64 `json:"notifications" yaml:"notifications" msgpack:"notifications"`
	NotifyFailures uint64 `json:"notify_failures" yaml:"notify_failures" msgpack:"notify_failures"`
	Closed         bool   `json:"closed,omitempty" yaml:"closed,omitempty" msgpack:"closed,omitempty"`
}

// Stat returns a snapshot of the device counters.
func (d *Device) Stat() Stat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stat{
		Index:          d.index,
		Capacity:       d.buf.Cap(),
		Len:            d.buf.Len(),
		Subscribers:    len(d.subs),
		Pollers:        d.polls.len(),
		BytesRead:      d.bytesRead,
		BytesWritten:   d.bytesWritten,
		Notifications:  d.raised,
		NotifyFailures: d.undelivered.Load(),
		Closed:         d.closed,
	}
}
