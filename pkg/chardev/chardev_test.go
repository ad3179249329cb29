package chardev

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/haivivi/globalfifo/pkg/fifo"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer serves a fresh registry and returns a connected client.
func startServer(t *testing.T, devices, capacity int) (*fifo.Registry, *Client) {
	t.Helper()
	return startConfigured(t, devices, capacity, func(*Server) {})
}

// startConfigured is startServer with a hook to adjust the Server first.
func startConfigured(t *testing.T, devices, capacity int, configure func(*Server)) (*fifo.Registry, *Client) {
	t.Helper()
	reg := fifo.New(fifo.Options{Devices: devices, Capacity: capacity, Logger: quietLogger()})
	srv := &Server{Registry: reg, Logger: quietLogger()}
	configure(srv)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		reg.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return reg, c
}

func mustOpen(t *testing.T, c *Client, dev int, flags Flags) *File {
	t.Helper()
	f, err := c.Open(context.Background(), dev, flags)
	if err != nil {
		t.Fatalf("Open(%d): %v", dev, err)
	}
	return f
}

func waitPollers(t *testing.T, reg *fifo.Registry, dev, n int) {
	t.Helper()
	d, err := reg.Device(dev)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.Stat().Pollers >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d pollers", n)
}

func TestReadWrite(t *testing.T) {
	_, c := startServer(t, 2, 4096)
	f := mustOpen(t, c, 0, 0)
	if f.Capacity() != 4096 {
		t.Errorf("Capacity = %d, want 4096", f.Capacity())
	}

	n, err := f.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 11 {
		t.Fatalf("Write n = %d, want 11", n)
	}

	buf := make([]byte, 5)
	n, err = f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("Read = %q, want %q", buf[:n], "hello")
	}

	buf = make([]byte, 100)
	n, err = f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != " world" {
		t.Errorf("Read = %q, want %q", buf[:n], " world")
	}
}

func TestPartialWrite(t *testing.T) {
	_, c := startServer(t, 1, 4096)
	f := mustOpen(t, c, 0, FlagNonblock)

	if n, err := f.Write(bytes.Repeat([]byte{'a'}, 4090)); err != nil || n != 4090 {
		t.Fatalf("Write = %d, %v; want 4090", n, err)
	}
	if n, err := f.Write(bytes.Repeat([]byte{'b'}, 10)); err != nil || n != 6 {
		t.Fatalf("Write = %d, %v; want 6", n, err)
	}
	if _, err := f.Write([]byte{'c'}); !errors.Is(err, fifo.ErrWouldBlock) {
		t.Fatalf("Write on full device: err = %v, want ErrWouldBlock", err)
	}
}

func TestNonblockRead(t *testing.T) {
	_, c := startServer(t, 1, 64)
	f := mustOpen(t, c, 0, FlagNonblock)

	_, err := f.Read(make([]byte, 8))
	if !errors.Is(err, fifo.ErrWouldBlock) {
		t.Fatalf("err = %v, want ErrWouldBlock", err)
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != CodeAgain {
		t.Errorf("err = %#v, want RemoteError %s", err, CodeAgain)
	}
}

func TestSetNonblock(t *testing.T) {
	_, c := startServer(t, 1, 64)
	f := mustOpen(t, c, 0, 0)
	ctx := context.Background()

	if err := f.SetNonblock(ctx, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	if f.Flags()&FlagNonblock == 0 {
		t.Error("FlagNonblock not set")
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, fifo.ErrWouldBlock) {
		t.Fatalf("err = %v, want ErrWouldBlock", err)
	}
	if err := f.SetNonblock(ctx, false); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	if f.Flags() != 0 {
		t.Errorf("Flags = %#o, want 0", f.Flags())
	}
}

func TestBlockingReadWakesOnWrite(t *testing.T) {
	_, c := startServer(t, 1, 64)
	reader := mustOpen(t, c, 0, 0)
	writer := mustOpen(t, c, 0, 0)

	type result struct {
		data string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 16)
		n, err := reader.Read(buf)
		done <- result{string(buf[:n]), err}
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := writer.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Read: %v", r.err)
		}
		if r.data != "ping" {
			t.Errorf("Read = %q, want %q", r.data, "ping")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked read never woke")
	}
}

func TestCancelInterruptsRead(t *testing.T) {
	reg, c := startServer(t, 1, 64)
	f := mustOpen(t, c, 0, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.ReadContext(ctx, make([]byte, 8))
	if !errors.Is(err, fifo.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}

	// Nothing was consumed and the connection is still usable.
	if _, err := f.Write([]byte("x")); err != nil {
		t.Fatalf("Write after cancel: %v", err)
	}
	d, _ := reg.Device(0)
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}

func TestCancelInterruptsWrite(t *testing.T) {
	_, c := startServer(t, 1, 4)
	f := mustOpen(t, c, 0, 0)
	if _, err := f.Write([]byte("full")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.WriteContext(ctx, []byte("more")); !errors.Is(err, fifo.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
}

func TestIoctl(t *testing.T) {
	reg, c := startServer(t, 1, 64)
	f := mustOpen(t, c, 0, 0)
	ctx := context.Background()

	if _, err := f.Write([]byte("data")); err != nil {
		t.Fatal(err)
	}
	if err := f.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	d, _ := reg.Device(0)
	if d.Len() != 0 {
		t.Errorf("Len after clear = %d, want 0", d.Len())
	}

	if err := f.Ioctl(ctx, fifo.Command(0x1234)); !errors.Is(err, fifo.ErrInvalidArgument) {
		t.Errorf("unknown ioctl: err = %v, want ErrInvalidArgument", err)
	}
}

func TestOpenUnknownDevice(t *testing.T) {
	_, c := startServer(t, 2, 64)
	for _, dev := range []int{-1, 2, 100} {
		if _, err := c.Open(context.Background(), dev, 0); !errors.Is(err, fifo.ErrNotFound) {
			t.Errorf("Open(%d): err = %v, want ErrNotFound", dev, err)
		}
	}
}

func TestBadHandle(t *testing.T) {
	_, c := startServer(t, 1, 64)
	f := mustOpen(t, c, 0, 0)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := f.Write([]byte("x")); !errors.Is(err, ErrBadHandle) {
		t.Errorf("Write after close: err = %v, want ErrBadHandle", err)
	}
	if err := f.Close(); !errors.Is(err, ErrBadHandle) {
		t.Errorf("second Close: err = %v, want ErrBadHandle", err)
	}
}

func TestAsyncEvents(t *testing.T) {
	reg, c := startServer(t, 2, 64)
	watcher := mustOpen(t, c, 1, FlagAsync)
	writer := mustOpen(t, c, 1, 0)

	d, _ := reg.Device(1)
	if got := d.Stat().Subscribers; got != 1 {
		t.Fatalf("Subscribers = %d, want 1", got)
	}

	for range 3 {
		if _, err := writer.Write([]byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	for i := range 3 {
		select {
		case ev := <-c.Events():
			if ev.Handle != watcher.Handle() {
				t.Errorf("event %d: handle = %d, want %d", i, ev.Handle, watcher.Handle())
			}
			if ev.Device != 1 {
				t.Errorf("event %d: device = %d, want 1", i, ev.Device)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event %d not received", i)
		}
	}

	if err := watcher.SetAsync(context.Background(), false, 0); err != nil {
		t.Fatalf("SetAsync(false): %v", err)
	}
	if got := d.Stat().Subscribers; got != 0 {
		t.Errorf("Subscribers after SetAsync(false) = %d, want 0", got)
	}
}

func TestSignalOwnerRefused(t *testing.T) {
	for _, allow := range []bool{false, true} {
		t.Run(fmt.Sprintf("allow=%v", allow), func(t *testing.T) {
			reg, c := startConfigured(t, 1, 64, func(s *Server) { s.AllowSignal = allow })
			ctx := context.Background()
			f := mustOpen(t, c, 0, FlagNonblock)

			// Over TCP the peer is unknown, so no pid is acceptable,
			// neither another process nor our own.
			for _, pid := range []int{os.Getppid(), os.Getpid(), -1} {
				err := f.SetAsync(ctx, true, pid)
				if !errors.Is(err, fifo.ErrInvalidArgument) {
					t.Fatalf("SetAsync(pid %d) = %v, want EINVAL", pid, err)
				}
			}
			if _, err := c.Open(ctx, 0, FlagAsync); err != nil {
				t.Fatalf("Open(FlagAsync) without pid: %v", err)
			}

			d, _ := reg.Device(0)
			if got := d.Stat().Subscribers; got != 1 {
				t.Errorf("Subscribers = %d, want only the event subscriber", got)
			}
			// The refused request left O_NONBLOCK as it was.
			buf := make([]byte, 1)
			if _, err := f.Read(buf); !errors.Is(err, fifo.ErrWouldBlock) {
				t.Errorf("Read = %v, want ErrWouldBlock", err)
			}
		})
	}
}

func TestPoll(t *testing.T) {
	reg, c := startServer(t, 2, 64)
	a := mustOpen(t, c, 0, 0)
	b := mustOpen(t, c, 1, 0)
	ctx := context.Background()

	t.Run("zero timeout", func(t *testing.T) {
		if _, err := b.Write([]byte("x")); err != nil {
			t.Fatal(err)
		}
		res, err := c.Poll(ctx, []PollRequest{
			{File: a, Events: fifo.EventIn},
			{File: b, Events: fifo.EventIn},
		}, 0)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(res) != 1 || res[0].File != b || res[0].Events != fifo.EventIn {
			t.Fatalf("Poll = %+v, want only b readable", res)
		}
		if _, err := b.Read(make([]byte, 1)); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		res, err := c.Poll(ctx, []PollRequest{{File: a, Events: fifo.EventIn}}, 30*time.Millisecond)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(res) != 0 {
			t.Errorf("Poll = %+v, want none", res)
		}
	})

	t.Run("wakes on write", func(t *testing.T) {
		done := make(chan []PollResult, 1)
		errc := make(chan error, 1)
		go func() {
			res, err := c.Poll(ctx, []PollRequest{{File: a, Events: fifo.EventIn}}, fifo.NoTimeout)
			if err != nil {
				errc <- err
				return
			}
			done <- res
		}()
		waitPollers(t, reg, 0, 1)
		if _, err := b.Write([]byte("y")); err != nil {
			t.Fatal(err)
		}
		// Writing to b must not satisfy a poll on a.
		if _, err := a.Write([]byte("z")); err != nil {
			t.Fatal(err)
		}
		select {
		case res := <-done:
			if len(res) != 1 || res[0].File != a || res[0].Events&fifo.EventIn == 0 {
				t.Errorf("Poll = %+v, want a readable", res)
			}
		case err := <-errc:
			t.Fatalf("Poll: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("poll never woke")
		}
	})

	t.Run("canceled", func(t *testing.T) {
		if err := a.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := c.Poll(cctx, []PollRequest{{File: a, Events: fifo.EventIn}}, fifo.NoTimeout)
		if !errors.Is(err, fifo.ErrInterrupted) {
			t.Errorf("err = %v, want ErrInterrupted", err)
		}
	})
}

func TestStats(t *testing.T) {
	_, c := startServer(t, 3, 128)
	f := mustOpen(t, c, 2, 0)
	if _, err := f.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("len(stats) = %d, want 3", len(stats))
	}
	if stats[2].Len != 3 || stats[2].Capacity != 128 || stats[2].BytesWritten != 3 {
		t.Errorf("stats[2] = %+v", stats[2])
	}
}

func TestServerCloseFailsPending(t *testing.T) {
	reg := fifo.New(fifo.Options{Devices: 1, Capacity: 16, Logger: quietLogger()})
	defer reg.Close()
	srv := &Server{Registry: reg, Logger: quietLogger()}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	f := mustOpen(t, c, 0, 0)

	errc := make(chan error, 1)
	go func() {
		_, err := f.Read(make([]byte, 1))
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	srv.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending read not released")
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client not done")
	}
}

func TestServerClosedRefusesSessions(t *testing.T) {
	reg := fifo.New(fifo.Options{Devices: 1, Capacity: 16, Logger: quietLogger()})
	defer reg.Close()
	srv := &Server{Registry: reg, Logger: quietLogger()}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	srv.Close()

	refused := &session{}
	if srv.track(refused) {
		t.Fatal("track succeeded after Close")
	}
	if refused.ctx != nil || refused.cancel != nil {
		t.Error("refused session was given a context")
	}

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		// Refusal may already surface during the handshake.
		return
	}
	defer c.Close()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection to closed server stayed open")
	}
	if _, err := c.Open(context.Background(), 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Open = %v, want ErrClosed", err)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fifo.ErrWouldBlock, CodeAgain},
		{fifo.ErrInterrupted, CodeIntr},
		{fifo.ErrNotFound, CodeNoDev},
		{fifo.ErrInvalidArgument, CodeInval},
		{ErrBadHandle, CodeBadF},
		{fifo.ErrClosed, CodeShutdown},
		{errors.New("boom"), CodeIO},
	}
	for _, tt := range tests {
		code := errorCode(tt.err)
		if code != tt.code {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, code, tt.code)
		}
		re := &RemoteError{Code: code}
		if tt.code != CodeIO && !errors.Is(re, tt.err) {
			t.Errorf("RemoteError{%s} does not match %v", code, tt.err)
		}
	}
}
