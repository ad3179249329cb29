package fifo

import (
	"context"
	"sync"

	"github.com/haivivi/globalfifo/pkg/notify"
)

// File is one open handle on a device. It carries the per-open flags
// (non-blocking mode, async notification) while the data lives in the
// shared Device.
//
// File implements io.Reader and io.Writer; those calls cannot be canceled.
// Use ReadContext and WriteContext for interruptible I/O.
type File struct {
	dev *Device
	id  string

	mu       sync.Mutex
	nonblock bool
	async    bool
	closed   bool
}

func newFile(d *Device) *File {
	return &File{dev: d, id: notify.NewID()}
}

// Device returns the underlying device.
func (f *File) Device() *Device {
	return f.dev
}

// ID returns the subscriber identity used when async notification is on.
func (f *File) ID() string {
	return f.id
}

// SetNonblock switches non-blocking mode (O_NONBLOCK).
func (f *File) SetNonblock(on bool) {
	f.mu.Lock()
	f.nonblock = on
	f.mu.Unlock()
}

// Nonblock reports whether non-blocking mode is on.
func (f *File) Nonblock() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonblock
}

// SetAsync turns async notification on with sub as the receiver, or off when
// sub is nil (FASYNC).
func (f *File) SetAsync(sub notify.Subscriber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if sub == nil {
		f.dev.Unsubscribe(f.id)
		f.async = false
		return nil
	}
	if err := f.dev.Subscribe(f.id, sub); err != nil {
		return err
	}
	f.async = true
	return nil
}

// Async reports whether async notification is on.
func (f *File) Async() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.async
}

func (f *File) flags() (nonblock bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, ErrClosed
	}
	return f.nonblock, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

// ReadContext reads like Device.Read using the file's non-blocking flag.
func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	nonblock, err := f.flags()
	if err != nil {
		return 0, err
	}
	return f.dev.Read(ctx, p, nonblock)
}

// Write implements io.Writer. Unlike most writers it may return n < len(p)
// with a nil error when the device runs out of space.
func (f *File) Write(p []byte) (int, error) {
	return f.WriteContext(context.Background(), p)
}

// WriteContext writes like Device.Write using the file's non-blocking flag.
func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	nonblock, err := f.flags()
	if err != nil {
		return 0, err
	}
	return f.dev.Write(ctx, p, nonblock)
}

// Poll returns the current readiness for mask.
func (f *File) Poll(mask EventMask) EventMask {
	return f.dev.Readiness(mask)
}

// Ioctl executes an administrative command on the file's device.
func (f *File) Ioctl(cmd Command) error {
	if _, err := f.flags(); err != nil {
		return err
	}
	return ioctl(f.dev, cmd)
}

// Close drops the async subscription and invalidates the handle. It does not
// affect other handles on the same device.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.async {
		f.dev.Unsubscribe(f.id)
		f.async = false
	}
	return nil
}
