// Package notify delivers asynchronous "data available" events from fifo
// devices to registered subscribers.
//
// A Subscriber is anything that can accept an Event. The package ships three
// sinks: Func wraps a callback, Chan performs a non-blocking channel send, and
// Signal raises SIGIO on a process (Linux only). Broadcast fans one event out
// to a set of subscribers on a best-effort basis.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrDropped is returned by Chan when the receiver is not keeping up.
	ErrDropped = errors.New("notify: event dropped")

	// ErrUnsupported is returned by sinks that cannot work on this platform.
	ErrUnsupported = errors.New("notify: unsupported on this platform")
)

// Kind identifies what happened on a device.
type Kind uint8

const (
	// DataAvailable is raised after every write that stored at least one byte.
	DataAvailable Kind = iota + 1
)

func (k Kind) String() string {
	switch k {
	case DataAvailable:
		return "data_available"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// BandIn mirrors the si_band value that accompanies SIGIO (POLL_IN).
const BandIn = 1

// Event is one notification from a device.
type Event struct {
	Device int       `json:"device" msgpack:"device"`
	Kind   Kind      `json:"kind" msgpack:"kind"`
	Band   int       `json:"band" msgpack:"band"`
	Time   time.Time `json:"time" msgpack:"time"`
}

// NewEvent creates a DataAvailable event for dev stamped with the current time.
func NewEvent(dev int) Event {
	return Event{Device: dev, Kind: DataAvailable, Band: BandIn, Time: time.Now()}
}

// Subscriber receives events. Notify must not block for long: it is called
// from the writer's goroutine.
type Subscriber interface {
	Notify(Event) error
}

// Func adapts a function to the Subscriber interface.
type Func func(Event) error

// Notify calls f(ev).
func (f Func) Notify(ev Event) error {
	return f(ev)
}

// Chan is a Subscriber that sends events on a channel without blocking.
// When the channel is full the event is dropped and ErrDropped is returned.
type Chan chan Event

// Notify implements Subscriber.
func (c Chan) Notify(ev Event) error {
	select {
	case c <- ev:
		return nil
	default:
		return ErrDropped
	}
}

// NewID returns a fresh subscriber identity.
func NewID() string {
	return "sub_" + uuid.NewString()
}

// Target pairs a subscriber with its identity for Broadcast.
type Target struct {
	ID  string
	Sub Subscriber
}

// Broadcast delivers ev to every target. A failing subscriber does not stop
// delivery to the rest. Failures are logged at debug level on logger (nil
// means slog.Default()). It returns the number of successful deliveries.
func Broadcast(targets []Target, ev Event, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	delivered := 0
	for _, t := range targets {
		if err := deliver(t.Sub, ev); err != nil {
			logger.Debug("notify: delivery failed", "dev", ev.Device, "subscriber", t.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// deliver isolates a panicking subscriber from the writer.
func deliver(s Subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: subscriber panic: %v", r)
		}
	}()
	return s.Notify(ev)
}
