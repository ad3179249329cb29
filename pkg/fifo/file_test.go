package fifo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haivivi/globalfifo/pkg/notify"
)

func TestFileNonblockFlag(t *testing.T) {
	r := newTestRegistry(t, 1, 4)
	f, _ := r.Open(0)
	if f.Nonblock() {
		t.Fatal("nonblock on by default")
	}
	f.SetNonblock(true)
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("err=%v", err)
	}
}

func TestFileReadContext(t *testing.T) {
	r := newTestRegistry(t, 1, 4)
	f, _ := r.Open(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.ReadContext(ctx, make([]byte, 1)); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err=%v", err)
	}
}

func TestFileClose(t *testing.T) {
	r := newTestRegistry(t, 1, 4)
	f, _ := r.Open(0)
	g, _ := r.Open(0)
	ch := make(notify.Chan, 4)
	f.SetAsync(ch)

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
	if _, err := f.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("write on closed file err=%v", err)
	}
	if err := f.Ioctl(CmdClear); !errors.Is(err, ErrClosed) {
		t.Fatalf("ioctl on closed file err=%v", err)
	}
	if err := f.SetAsync(ch); !errors.Is(err, ErrClosed) {
		t.Fatalf("setasync on closed file err=%v", err)
	}

	// Other handles keep working and the closed file's subscription is gone.
	if _, err := g.Write([]byte("x")); err != nil {
		t.Fatalf("write via other handle: %v", err)
	}
	if len(ch) != 0 {
		t.Fatal("closed file still notified")
	}
	if g.Poll(EventIn) != EventIn {
		t.Fatal("expected readable")
	}
}
