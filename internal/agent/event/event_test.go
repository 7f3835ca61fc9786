package event

import (
	"reflect"
	"testing"
	"time"

	"github.com/agentlink/agentlink/internal/agent/hook"
	"github.com/agentlink/agentlink/internal/agent/pin"
	"github.com/agentlink/agentlink/internal/agent/snapshot"
	"github.com/agentlink/agentlink/internal/agent/syncthread"
	"github.com/agentlink/agentlink/internal/agent/typesys"
)

type chanEmitter struct {
	Tick chan int
}

type slotEmitter struct {
	Changed func(int)
	calls   int
}

func waitForValue(t *testing.T, got <-chan []reflect.Value) []reflect.Value {
	t.Helper()
	select {
	case v := <-got:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded event")
		return nil
	}
}

func setup(t *testing.T) (*Bridge, *pin.Table) {
	t.Helper()
	arena := typesys.NewArena()
	rt := snapshot.NewRuntime(arena)
	tbl := pin.NewTable(rt)
	th := syncthread.New()
	t.Cleanup(th.Close)
	h := hook.New(th)
	return New(h, tbl), tbl
}

func TestSubscribeChannelForwardsEachValue(t *testing.T) {
	b, tbl := setup(t)
	obj := &chanEmitter{Tick: make(chan int, 1)}
	tok := tbl.Pin(obj)

	got := make(chan []reflect.Value, 1)
	subTok, err := b.Subscribe(tok, "Tick", func(args []reflect.Value) { got <- args })
	if err != nil {
		t.Fatal(err)
	}

	obj.Tick <- 7
	args := waitForValue(t, got)
	if len(args) != 1 || args[0].Interface().(int) != 7 {
		t.Fatalf("unexpected forwarded args: %v", args)
	}

	if err := b.Unsubscribe(subTok); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected 0 subscriptions after unsubscribe, got %d", b.Len())
	}
}

func TestSubscribeHandlerSlotCombinesDelegates(t *testing.T) {
	b, tbl := setup(t)
	obj := &slotEmitter{Changed: func(n int) { /* existing handler */ }}
	tok := tbl.Pin(obj)

	got := make(chan []reflect.Value, 1)
	subTok, err := b.Subscribe(tok, "Changed", func(args []reflect.Value) { got <- args })
	if err != nil {
		t.Fatal(err)
	}

	obj.Changed(9)
	args := waitForValue(t, got)
	if args[0].Interface().(int) != 9 {
		t.Fatalf("unexpected forwarded args: %v", args)
	}

	if err := b.Unsubscribe(subTok); err != nil {
		t.Fatal(err)
	}
}

func TestSubscribeUnknownEventNameErrors(t *testing.T) {
	b, tbl := setup(t)
	obj := &chanEmitter{Tick: make(chan int, 1)}
	tok := tbl.Pin(obj)

	if _, err := b.Subscribe(tok, "DoesNotExist", func([]reflect.Value) {}); err == nil {
		t.Fatal("expected an error for an unknown event name")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b, _ := setup(t)
	if err := b.Unsubscribe(Token(999)); err != nil {
		t.Fatalf("expected idempotent unsubscribe, got %v", err)
	}
}
