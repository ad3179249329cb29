package fifo

import (
	"context"
	"time"
)

// NoTimeout makes Poll wait until a device is ready or ctx is done.
const NoTimeout time.Duration = -1

// PollRequest names a device and the events the caller waits for.
type PollRequest struct {
	Device *Device
	Events EventMask
}

// PollResult reports a device that is ready for at least one requested event.
type PollResult struct {
	Device *Device
	Events EventMask
}

// Poll waits until at least one of the requested devices is ready.
//
// A zero timeout checks readiness once and never blocks. A negative timeout
// (NoTimeout) waits indefinitely. A positive timeout bounds the wait; on
// expiry Poll returns an empty result and a nil error. Canceling ctx while
// waiting returns ErrInterrupted.
//
// Results follow request order and contain only ready devices.
func Poll(ctx context.Context, reqs []PollRequest, timeout time.Duration) ([]PollResult, error) {
	if timeout == 0 {
		return scan(reqs, nil), nil
	}

	w := NewWaiter()
	ready := scan(reqs, w)
	defer func() {
		for _, r := range reqs {
			r.Device.pollUnregister(w)
		}
	}()
	if len(ready) > 0 {
		return ready, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		select {
		case <-w.C():
			if ready := scan(reqs, nil); len(ready) > 0 {
				return ready, nil
			}
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ErrInterrupted
		}
	}
}

// scan checks every request, registering w with the devices that are not
// ready. Locks are taken one device at a time.
func scan(reqs []PollRequest, w *Waiter) []PollResult {
	var ready []PollResult
	for _, r := range reqs {
		if ev := r.Device.pollRegister(r.Events, w); ev != 0 {
			ready = append(ready, PollResult{Device: r.Device, Events: ev})
		}
	}
	return ready
}
