package fifo

import (
	"slices"
	"strings"
)

// EventMask is a set of readiness bits, numbered like their epoll
// counterparts.
type EventMask uint16

const (
	EventIn  EventMask = 0x01 // readable: at least one byte buffered
	EventOut EventMask = 0x04 // writable: at least one byte free
	EventHUp EventMask = 0x10 // device closed; always reported
)

// EventRW is the mask for both directions.
const EventRW = EventIn | EventOut

func (m EventMask) String() string {
	if m == 0 {
		return "0"
	}
	var parts []string
	if m&EventIn != 0 {
		parts = append(parts, "IN")
	}
	if m&EventOut != 0 {
		parts = append(parts, "OUT")
	}
	if m&EventHUp != 0 {
		parts = append(parts, "HUP")
	}
	return strings.Join(parts, "|")
}

// Waiter is woken when any device it is registered with changes state in a
// way it is interested in. One Waiter can be registered with many devices.
type Waiter struct {
	ch chan struct{}
}

// NewWaiter creates a Waiter.
func NewWaiter() *Waiter {
	return &Waiter{ch: make(chan struct{}, 1)}
}

// C returns the channel that receives a value after a wake-up. Wake-ups
// coalesce: several notifications before the receive yield one value.
func (w *Waiter) C() <-chan struct{} {
	return w.ch
}

func (w *Waiter) wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

type waitEntry struct {
	w    *Waiter
	mask EventMask
}

// waitQueue is guarded by the owning device's mutex.
type waitQueue struct {
	entries []waitEntry
}

func (q *waitQueue) add(w *Waiter, mask EventMask) {
	q.entries = append(q.entries, waitEntry{w: w, mask: mask | EventHUp})
}

func (q *waitQueue) remove(w *Waiter) {
	q.entries = slices.DeleteFunc(q.entries, func(e waitEntry) bool {
		return e.w == w
	})
}

func (q *waitQueue) notify(mask EventMask) {
	for _, e := range q.entries {
		if e.mask&mask != 0 {
			e.w.wake()
		}
	}
}

func (q *waitQueue) len() int {
	return len(q.entries)
}
