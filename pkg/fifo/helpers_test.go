package fifo

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, devices, capacity int) *Registry {
	t.Helper()
	r := New(Options{Devices: devices, Capacity: capacity, Logger: quietLogger()})
	t.Cleanup(func() { r.Close() })
	return r
}

func mustDevice(t *testing.T, r *Registry, i int) *Device {
	t.Helper()
	d, err := r.Device(i)
	if err != nil {
		t.Fatalf("Device(%d): %v", i, err)
	}
	return d
}

// waitSleepers blocks until n goroutines are asleep in d's wait loop.
func waitSleepers(t *testing.T, d *Device, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		got := d.sleepers
		d.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d sleepers on dev %d", n, d.index)
}

// waitPollers blocks until n waiters are registered on d.
func waitPollers(t *testing.T, d *Device, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Stat().Pollers >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d pollers on dev %d", n, d.index)
}
