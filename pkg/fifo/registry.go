package fifo

import (
	"fmt"
	"log/slog"
	"sync"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultDevices  = 8
	DefaultCapacity = 4096
)

// Command is an administrative control request.
type Command uint32

// CmdClear discards a device's contents. Its value matches _IO('g', 1).
const CmdClear Command = 0x6701

func (c Command) String() string {
	if c == CmdClear {
		return "CLEAR"
	}
	return fmt.Sprintf("cmd(%#x)", uint32(c))
}

// Options configures a Registry.
type Options struct {
	// Devices is the number of devices. Default is DefaultDevices.
	Devices int

	// Capacity is the buffer size of every device in bytes.
	// Default is DefaultCapacity.
	Capacity int

	// Logger receives transfer and control logs. Default is slog.Default().
	Logger *slog.Logger
}

// Registry owns a fixed set of devices. Devices are created by New and live
// until Close; pointers to them stay valid for the registry's lifetime.
type Registry struct {
	devices   []*Device
	logger    *slog.Logger
	closeOnce sync.Once
}

// New creates a registry with empty devices and no subscribers.
func New(opts Options) *Registry {
	if opts.Devices <= 0 {
		opts.Devices = DefaultDevices
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		devices: make([]*Device, opts.Devices),
		logger:  logger,
	}
	for i := range r.devices {
		r.devices[i] = newDevice(i, opts.Capacity, logger)
	}
	return r
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// Capacity returns the per-device buffer capacity.
func (r *Registry) Capacity() int {
	return r.devices[0].Cap()
}

// Device returns the device at index.
func (r *Registry) Device(index int) (*Device, error) {
	if index < 0 || index >= len(r.devices) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, index)
	}
	return r.devices[index], nil
}

// Open returns a new File on the device at index. Each call yields an
// independent handle; all handles on one index share the same device.
func (r *Registry) Open(index int) (*File, error) {
	d, err := r.Device(index)
	if err != nil {
		return nil, err
	}
	return newFile(d), nil
}

// Ioctl executes an administrative command on the device at index.
func (r *Registry) Ioctl(index int, cmd Command) error {
	d, err := r.Device(index)
	if err != nil {
		return err
	}
	return ioctl(d, cmd)
}

func ioctl(d *Device, cmd Command) error {
	switch cmd {
	case CmdClear:
		return d.Clear()
	default:
		return fmt.Errorf("%w: unsupported command %s", ErrInvalidArgument, cmd)
	}
}

// Stats returns a snapshot of every device in index order.
func (r *Registry) Stats() []Stat {
	stats := make([]Stat, len(r.devices))
	for i, d := range r.devices {
		stats[i] = d.Stat()
	}
	return stats
}

// Close closes every device. Callers blocked in Read or Write are released
// with ErrClosed before Close returns. Close is idempotent.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		for _, d := range r.devices {
			d.close()
		}
		r.logger.Info("fifo: registry closed", "devices", len(r.devices))
	})
	return nil
}
