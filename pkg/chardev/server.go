package chardev

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haivivi/globalfifo/pkg/fifo"
	"github.com/haivivi/globalfifo/pkg/notify"
)

// Server serves a fifo.Registry over WebSocket. It implements http.Handler;
// mount it on any path.
type Server struct {
	// Registry is the set of devices being served. Required.
	Registry *fifo.Registry

	// Logger receives connection logs. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Upgrader upgrades incoming HTTP requests. The zero value accepts
	// same-origin requests only.
	Upgrader websocket.Upgrader

	// EventQueue is the per-connection backlog of pushed events. Events
	// beyond it are dropped. Default is 64.
	EventQueue int

	// AllowSignal lets a handle with FASYNC name a pid to receive SIGIO.
	// The pid must be the peer's own, as reported by SO_PEERCRED on a unix
	// socket connection; other requests fail with EINVAL. Without it every
	// pid request fails.
	AllowSignal bool

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Debug("chardev: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sess := s.newSession(conn)
	if !s.track(sess) {
		conn.Close()
		return
	}
	defer s.untrack(sess)

	s.logger().Info("chardev: session opened", "session", sess.id, "remote", r.RemoteAddr)
	sess.serve()
	s.logger().Info("chardev: session closed", "session", sess.id)
}

// Close disconnects every session. Blocked requests are interrupted.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.conn.Close()
	}
	return nil
}

// track registers sess and gives it its context. It fails once the server
// is closed, leaving sess without one.
func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	sess.ctx, sess.cancel = context.WithCancel(context.Background())
	if s.sessions == nil {
		s.sessions = make(map[*session]struct{})
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// handle is one open file on a session.
type handle struct {
	file  *fifo.File
	flags Flags
}

// session is the server side of one WebSocket connection.
type session struct {
	id     string
	srv    *Server
	conn   *websocket.Conn
	logger *slog.Logger

	// peer is the pid of the connected process, 0 if unknown.
	peer int

	ctx    context.Context
	cancel context.CancelFunc
	out    chan *Frame
	events chan *Frame
	wg     sync.WaitGroup

	mu       sync.Mutex
	handles  map[uint32]*handle
	next     uint32
	inflight map[uint64]context.CancelFunc
}

func (s *Server) newSession(conn *websocket.Conn) *session {
	queue := s.EventQueue
	if queue <= 0 {
		queue = 64
	}
	id := "sess_" + uuid.NewString()
	return &session{
		id:       id,
		srv:      s,
		conn:     conn,
		peer:     peerPID(conn.NetConn()),
		logger:   s.logger().With("session", id),
		out:      make(chan *Frame),
		events:   make(chan *Frame, queue),
		handles:  make(map[uint32]*handle),
		inflight: make(map[uint64]context.CancelFunc),
	}
}

func (ss *session) serve() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ss.writeLoop()
	}()

	ss.readLoop()

	// Interrupt whatever is still blocked, then release the handles.
	ss.cancel()
	ss.wg.Wait()
	ss.mu.Lock()
	for h, hd := range ss.handles {
		hd.file.Close()
		delete(ss.handles, h)
	}
	ss.mu.Unlock()
	ss.conn.Close()
	<-writerDone
}

func (ss *session) readLoop() {
	for {
		mt, data, err := ss.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.logger.Debug("chardev: read failed", "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			ss.logger.Debug("chardev: ignoring non-binary message", "type", mt)
			continue
		}
		f, err := decodeFrame(data)
		if err != nil {
			ss.logger.Debug("chardev: bad frame", "error", err)
			continue
		}
		ss.dispatch(f)
	}
}

func (ss *session) writeLoop() {
	for {
		var f *Frame
		select {
		case f = <-ss.out:
		case f = <-ss.events:
		case <-ss.ctx.Done():
			return
		}
		data, err := encodeFrame(f)
		if err != nil {
			ss.logger.Error("chardev: encode failed", "op", f.Op, "error", err)
			continue
		}
		if err := ss.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			ss.logger.Debug("chardev: write failed", "error", err)
			ss.conn.Close()
			return
		}
	}
}

// reply sends a response frame, giving up when the session ends.
func (ss *session) reply(f *Frame) {
	select {
	case ss.out <- f:
	case <-ss.ctx.Done():
	}
}

func (ss *session) replyErr(req *Frame, err error) {
	ss.reply(&Frame{ID: req.ID, Op: req.Op, Err: errorCode(err), Msg: err.Error()})
}

func (ss *session) dispatch(f *Frame) {
	switch f.Op {
	case OpRead, OpWrite, OpPoll:
		// May block: run in the background so the session stays responsive.
		ctx, cancel := context.WithCancel(ss.ctx)
		ss.mu.Lock()
		ss.inflight[f.ID] = cancel
		ss.mu.Unlock()

		ss.wg.Add(1)
		go func() {
			defer ss.wg.Done()
			defer func() {
				ss.mu.Lock()
				delete(ss.inflight, f.ID)
				ss.mu.Unlock()
				cancel()
			}()
			ss.handleBlocking(ctx, f)
		}()
	case OpCancel:
		ss.mu.Lock()
		cancel := ss.inflight[f.ID]
		ss.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case OpOpen:
		ss.handleOpen(f)
	case OpClose:
		ss.handleClose(f)
	case OpIoctl:
		ss.handleIoctl(f)
	case OpSetFl:
		ss.handleSetFl(f)
	case OpStat:
		ss.reply(&Frame{ID: f.ID, Op: f.Op, Stats: ss.srv.Registry.Stats()})
	default:
		ss.replyErr(f, fmt.Errorf("%w: unknown op %q", ErrProtocol, f.Op))
	}
}

func (ss *session) lookup(h uint32) (*handle, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	hd, ok := ss.handles[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBadHandle, h)
	}
	return hd, nil
}

func (ss *session) handleOpen(f *Frame) {
	file, err := ss.srv.Registry.Open(f.Dev)
	if err != nil {
		ss.replyErr(f, err)
		return
	}
	hd := &handle{file: file}
	ss.mu.Lock()
	ss.next++
	h := ss.next
	ss.handles[h] = hd
	ss.mu.Unlock()

	if err := ss.applyFlags(h, hd, f.Flags, f.Pid); err != nil {
		ss.mu.Lock()
		delete(ss.handles, h)
		ss.mu.Unlock()
		file.Close()
		ss.replyErr(f, err)
		return
	}
	ss.logger.Debug("chardev: open", "dev", f.Dev, "handle", h, "flags", f.Flags)
	ss.reply(&Frame{ID: f.ID, Op: f.Op, Handle: h, Dev: f.Dev, Flags: hd.flags, Size: ss.srv.Registry.Capacity()})
}

func (ss *session) handleClose(f *Frame) {
	ss.mu.Lock()
	hd, ok := ss.handles[f.Handle]
	delete(ss.handles, f.Handle)
	ss.mu.Unlock()
	if !ok {
		ss.replyErr(f, fmt.Errorf("%w: %d", ErrBadHandle, f.Handle))
		return
	}
	hd.file.Close()
	ss.reply(&Frame{ID: f.ID, Op: f.Op, Handle: f.Handle})
}

func (ss *session) handleIoctl(f *Frame) {
	hd, err := ss.lookup(f.Handle)
	if err != nil {
		ss.replyErr(f, err)
		return
	}
	if err := hd.file.Ioctl(f.Cmd); err != nil {
		ss.replyErr(f, err)
		return
	}
	ss.reply(&Frame{ID: f.ID, Op: f.Op, Handle: f.Handle})
}

func (ss *session) handleSetFl(f *Frame) {
	hd, err := ss.lookup(f.Handle)
	if err != nil {
		ss.replyErr(f, err)
		return
	}
	if err := ss.applyFlags(f.Handle, hd, f.Flags, f.Pid); err != nil {
		ss.replyErr(f, err)
		return
	}
	ss.reply(&Frame{ID: f.ID, Op: f.Op, Handle: f.Handle, Flags: f.Flags})
}

// applyFlags sets O_NONBLOCK and FASYNC on a handle. With FASYNC and a pid
// the process gets SIGIO; without a pid an event frame is pushed.
func (ss *session) applyFlags(h uint32, hd *handle, flags Flags, pid int) error {
	var sub notify.Subscriber
	if flags&FlagAsync != 0 {
		if pid != 0 {
			if err := ss.checkSignalOwner(pid); err != nil {
				return err
			}
			sub = notify.Signal{Pid: pid}
		} else {
			sub = ss.eventSink(h)
		}
	}
	if err := hd.file.SetAsync(sub); err != nil {
		return err
	}
	hd.file.SetNonblock(flags&FlagNonblock != 0)
	hd.flags = flags
	return nil
}

// checkSignalOwner allows SIGIO delivery only to the connected process.
func (ss *session) checkSignalOwner(pid int) error {
	switch {
	case !ss.srv.AllowSignal:
		return fmt.Errorf("%w: signal delivery disabled", fifo.ErrInvalidArgument)
	case ss.peer == 0 || pid != ss.peer:
		ss.logger.Warn("chardev: refused signal owner", "pid", pid, "peer", ss.peer)
		return fmt.Errorf("%w: pid %d is not the connected process", fifo.ErrInvalidArgument, pid)
	}
	return nil
}

func (ss *session) eventSink(h uint32) notify.Subscriber {
	return notify.Func(func(ev notify.Event) error {
		f := &Frame{Op: OpEvent, Handle: h, Dev: ev.Device, Event: &ev}
		select {
		case ss.events <- f:
			return nil
		case <-ss.ctx.Done():
			return ErrClosed
		default:
			return notify.ErrDropped
		}
	})
}

func (ss *session) handleBlocking(ctx context.Context, f *Frame) {
	switch f.Op {
	case OpRead:
		hd, err := ss.lookup(f.Handle)
		if err != nil {
			ss.replyErr(f, err)
			return
		}
		p := make([]byte, max(0, min(f.Size, ss.srv.Registry.Capacity())))
		n, err := hd.file.ReadContext(ctx, p)
		if err != nil {
			ss.replyErr(f, err)
			return
		}
		ss.reply(&Frame{ID: f.ID, Op: f.Op, Handle: f.Handle, N: n, Data: p[:n]})
	case OpWrite:
		hd, err := ss.lookup(f.Handle)
		if err != nil {
			ss.replyErr(f, err)
			return
		}
		n, err := hd.file.WriteContext(ctx, f.Data)
		if err != nil {
			ss.replyErr(f, err)
			return
		}
		ss.reply(&Frame{ID: f.ID, Op: f.Op, Handle: f.Handle, N: n})
	case OpPoll:
		ss.handlePoll(ctx, f)
	}
}

func (ss *session) handlePoll(ctx context.Context, f *Frame) {
	reqs := make([]fifo.PollRequest, 0, len(f.Polls))
	byDevice := make(map[*fifo.Device][]uint32, len(f.Polls))
	for _, e := range f.Polls {
		hd, err := ss.lookup(e.Handle)
		if err != nil {
			ss.replyErr(f, err)
			return
		}
		d := hd.file.Device()
		if _, seen := byDevice[d]; !seen {
			reqs = append(reqs, fifo.PollRequest{Device: d, Events: e.Events})
		} else {
			for i := range reqs {
				if reqs[i].Device == d {
					reqs[i].Events |= e.Events
				}
			}
		}
		byDevice[d] = append(byDevice[d], e.Handle)
	}

	timeout := fifo.NoTimeout
	if f.Timeout >= 0 {
		timeout = time.Duration(f.Timeout) * time.Millisecond
	}
	res, err := fifo.Poll(ctx, reqs, timeout)
	if err != nil {
		ss.replyErr(f, err)
		return
	}

	want := make(map[uint32]fifo.EventMask, len(f.Polls))
	for _, e := range f.Polls {
		want[e.Handle] = e.Events
	}
	var ready []PollEntry
	for _, r := range res {
		for _, h := range byDevice[r.Device] {
			if ev := r.Events & (want[h] | fifo.EventHUp); ev != 0 {
				ready = append(ready, PollEntry{Handle: h, Dev: r.Device.Index(), Events: ev})
			}
		}
	}
	ss.reply(&Frame{ID: f.ID, Op: f.Op, Polls: ready})
}

