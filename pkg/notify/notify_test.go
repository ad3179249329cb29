package notify

import (
	"errors"
	"strings"
	"testing"
)

func TestChanDropsWhenFull(t *testing.T) {
	ch := make(Chan, 1)
	if err := ch.Notify(NewEvent(0)); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := ch.Notify(NewEvent(0)); !errors.Is(err, ErrDropped) {
		t.Fatalf("second notify err=%v, want ErrDropped", err)
	}
	ev := <-ch
	if ev.Kind != DataAvailable || ev.Band != BandIn {
		t.Fatalf("ev=%+v", ev)
	}
}

func TestBroadcastContinuesAfterFailure(t *testing.T) {
	var got []string
	ok := func(id string) Subscriber {
		return Func(func(Event) error {
			got = append(got, id)
			return nil
		})
	}
	targets := []Target{
		{ID: "a", Sub: ok("a")},
		{ID: "bad", Sub: Func(func(Event) error { return errors.New("boom") })},
		{ID: "panic", Sub: Func(func(Event) error { panic("boom") })},
		{ID: "b", Sub: ok("b")},
	}
	n := Broadcast(targets, NewEvent(3), nil)
	if n != 2 {
		t.Fatalf("delivered=%d, want 2", n)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("got=%v", got)
	}
}

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatal("ids not unique")
	}
	if !strings.HasPrefix(a, "sub_") {
		t.Fatalf("id=%q", a)
	}
}

func TestKindString(t *testing.T) {
	if DataAvailable.String() != "data_available" {
		t.Errorf("got %q", DataAvailable.String())
	}
	if Kind(9).String() != "kind(9)" {
		t.Errorf("got %q", Kind(9).String())
	}
}
