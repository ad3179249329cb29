package chardev

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/globalfifo/pkg/fifo"
	"github.com/haivivi/globalfifo/pkg/notify"
)

// Event is a notification pushed by the server for an async handle.
type Event struct {
	Handle uint32
	notify.Event
}

// Client is a connection to a Server.
type Client struct {
	conn   *websocket.Conn
	events chan Event

	wmu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan *Frame
	err     error

	closeOnce sync.Once
	closed    chan struct{}
}

// DialOptions configures Dial.
type DialOptions struct {
	// HandshakeTimeout bounds the WebSocket handshake. Zero means no limit
	// beyond ctx.
	HandshakeTimeout time.Duration

	// EventBuffer is the capacity of the Events channel. Default is 64.
	EventBuffer int

	// Socket, when set, is a unix socket path dialed instead of the URL's
	// host. The URL still selects the endpoint path. Servers only accept
	// SIGIO delivery over such connections.
	Socket string
}

// Dial connects to the server at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	return DialWithOptions(ctx, url, DialOptions{})
}

// DialWithOptions connects to the server at url using opts.
func DialWithOptions(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if opts.Socket != "" {
		dialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", opts.Socket)
		}
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("chardev: failed to connect: %w", err)
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	c := &Client{
		conn:    conn,
		events:  make(chan Event, opts.EventBuffer),
		pending: make(map[uint64]chan *Frame),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns pushed notifications for handles opened with FlagAsync.
// Events are dropped when the channel is full. The channel is closed when
// the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClosed
		}
		c.mu.Unlock()
		close(c.closed)
		close(c.events)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("chardev: client read failed", "error", err)
				c.mu.Lock()
				c.err = fmt.Errorf("%w: %v", ErrClosed, err)
				c.mu.Unlock()
			}
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			slog.Debug("chardev: bad frame from server", "error", err)
			continue
		}

		if f.Op == OpEvent {
			if f.Event == nil {
				continue
			}
			select {
			case c.events <- Event{Handle: f.Handle, Event: *f.Event}:
			default:
				slog.Debug("chardev: event dropped", "handle", f.Handle)
			}
			continue
		}

		c.mu.Lock()
		ch := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- f
		}
	}
}

func (c *Client) send(f *Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return fmt.Errorf("chardev: encode %s: %w", f.Op, err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// call sends f and waits for the response. If ctx ends first a cancel frame
// is sent and the call waits for the server's EINTR answer.
func (c *Client) call(ctx context.Context, f *Frame) (*Frame, error) {
	ch := make(chan *Frame, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	f.ID = c.nextID
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := c.send(f); err != nil {
		c.forget(f.ID)
		return nil, err
	}

	var resp *Frame
	select {
	case resp = <-ch:
	case <-c.closed:
		return nil, c.closeErr()
	case <-ctx.Done():
		if err := c.send(&Frame{ID: f.ID, Op: OpCancel}); err != nil {
			c.forget(f.ID)
			return nil, err
		}
		select {
		case resp = <-ch:
		case <-c.closed:
			return nil, c.closeErr()
		}
	}

	if resp.Err != "" {
		return nil, &RemoteError{Code: resp.Err, Message: resp.Msg}
	}
	return resp, nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Open opens device dev with the given flags. FlagAsync without a pid makes
// the server push events to Events.
func (c *Client) Open(ctx context.Context, dev int, flags Flags) (*File, error) {
	resp, err := c.call(ctx, &Frame{Op: OpOpen, Dev: dev, Flags: flags})
	if err != nil {
		return nil, err
	}
	return &File{c: c, handle: resp.Handle, dev: dev, capacity: resp.Size, flags: resp.Flags}, nil
}

// Stats returns a snapshot of every device on the server.
func (c *Client) Stats(ctx context.Context) ([]fifo.Stat, error) {
	resp, err := c.call(ctx, &Frame{Op: OpStat})
	if err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// PollRequest names a remote file and the events to wait for.
type PollRequest struct {
	File   *File
	Events fifo.EventMask
}

// PollResult reports a ready remote file.
type PollResult struct {
	File   *File
	Events fifo.EventMask
}

// Poll waits until at least one file is ready, with the same timeout rules
// as fifo.Poll: zero polls once, fifo.NoTimeout waits forever, and a positive
// timeout returns an empty result on expiry.
func (c *Client) Poll(ctx context.Context, reqs []PollRequest, timeout time.Duration) ([]PollResult, error) {
	f := &Frame{Op: OpPoll, Timeout: -1}
	if timeout >= 0 {
		f.Timeout = timeout.Milliseconds()
		if timeout > 0 && f.Timeout == 0 {
			f.Timeout = 1
		}
	}
	files := make(map[uint32]*File, len(reqs))
	for _, r := range reqs {
		if r.File.c != c {
			return nil, fmt.Errorf("%w: file belongs to another client", ErrBadHandle)
		}
		files[r.File.handle] = r.File
		f.Polls = append(f.Polls, PollEntry{Handle: r.File.handle, Dev: r.File.dev, Events: r.Events})
	}

	resp, err := c.call(ctx, f)
	if err != nil {
		return nil, err
	}
	var res []PollResult
	for _, e := range resp.Polls {
		if file := files[e.Handle]; file != nil {
			res = append(res, PollResult{File: file, Events: e.Events})
		}
	}
	return res, nil
}

// File is a remote handle on one device.
type File struct {
	c        *Client
	handle   uint32
	dev      int
	capacity int

	mu    sync.Mutex
	flags Flags
	pid   int
}

// Handle returns the server-side handle number.
func (f *File) Handle() uint32 {
	return f.handle
}

// Dev returns the device index.
func (f *File) Dev() int {
	return f.dev
}

// Capacity returns the device buffer capacity reported at open.
func (f *File) Capacity() int {
	return f.capacity
}

// Flags returns the current file status flags.
func (f *File) Flags() Flags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	return f.ReadContext(context.Background(), p)
}

// ReadContext reads up to len(p) bytes. Canceling ctx interrupts a blocked
// read with fifo.ErrInterrupted.
func (f *File) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	resp, err := f.c.call(ctx, &Frame{Op: OpRead, Handle: f.handle, Size: len(p)})
	if err != nil {
		return 0, err
	}
	return copy(p, resp.Data), nil
}

// Write implements io.Writer. A short count with a nil error means the
// device ran out of space.
func (f *File) Write(p []byte) (int, error) {
	return f.WriteContext(context.Background(), p)
}

// WriteContext writes p. Canceling ctx interrupts a blocked write with
// fifo.ErrInterrupted.
func (f *File) WriteContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	resp, err := f.c.call(ctx, &Frame{Op: OpWrite, Handle: f.handle, Data: p})
	if err != nil {
		return 0, err
	}
	return resp.N, nil
}

// Ioctl sends a control command.
func (f *File) Ioctl(ctx context.Context, cmd fifo.Command) error {
	_, err := f.c.call(ctx, &Frame{Op: OpIoctl, Handle: f.handle, Cmd: cmd})
	return err
}

// Clear discards the device's contents.
func (f *File) Clear(ctx context.Context) error {
	return f.Ioctl(ctx, fifo.CmdClear)
}

// SetFlags replaces the file status flags (F_SETFL). pid is only used with
// FlagAsync: when non-zero, SIGIO is raised on that process instead of
// pushing events. The server accepts only the caller's own pid, over a
// connection dialed with DialOptions.Socket.
func (f *File) SetFlags(ctx context.Context, flags Flags, pid int) error {
	if _, err := f.c.call(ctx, &Frame{Op: OpSetFl, Handle: f.handle, Flags: flags, Pid: pid}); err != nil {
		return err
	}
	f.mu.Lock()
	f.flags = flags
	f.pid = pid
	f.mu.Unlock()
	return nil
}

// SetNonblock toggles FlagNonblock, keeping the other flags.
func (f *File) SetNonblock(ctx context.Context, on bool) error {
	f.mu.Lock()
	flags, pid := f.flags, f.pid
	f.mu.Unlock()
	if on {
		flags |= FlagNonblock
	} else {
		flags &^= FlagNonblock
	}
	return f.SetFlags(ctx, flags, pid)
}

// SetAsync toggles FlagAsync, keeping the other flags.
func (f *File) SetAsync(ctx context.Context, on bool, pid int) error {
	f.mu.Lock()
	flags := f.flags
	f.mu.Unlock()
	if on {
		flags |= FlagAsync
	} else {
		flags &^= FlagAsync
		pid = 0
	}
	return f.SetFlags(ctx, flags, pid)
}

// Close releases the handle on the server.
func (f *File) Close() error {
	_, err := f.c.call(context.Background(), &Frame{Op: OpClose, Handle: f.handle})
	return err
}
