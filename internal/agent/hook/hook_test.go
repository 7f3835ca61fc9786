package hook

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/agentlink/agentlink/internal/agent/syncthread"
	"github.com/agentlink/agentlink/internal/wire/value"
)

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestRunFiresPrefixThenPostfix(t *testing.T) {
	th := syncthread.New()
	defer th.Close()
	e := New(th)

	var mu sync.Mutex
	var seq []string
	fired := make(chan struct{}, 2)

	e.Register("counter", "Add", Prefix, func(instance any, args []reflect.Value) {
		mu.Lock()
		seq = append(seq, "prefix")
		mu.Unlock()
		fired <- struct{}{}
	})
	e.Register("counter", "Add", Postfix, func(instance any, args []reflect.Value) {
		mu.Lock()
		seq = append(seq, "postfix")
		mu.Unlock()
		fired <- struct{}{}
	})

	result := e.Run("counter", "Add", nil, nil, func() []reflect.Value {
		return []reflect.Value{reflect.ValueOf(15)}
	})
	if len(result) != 1 || result[0].Interface().(int) != 15 {
		t.Fatalf("unexpected result: %v", result)
	}

	waitFor(t, fired)
	waitFor(t, fired)

	mu.Lock()
	defer mu.Unlock()
	if len(seq) != 2 || seq[0] != "prefix" || seq[1] != "postfix" {
		t.Fatalf("expected [prefix postfix], got %v", seq)
	}
}

func TestRunFiresFinalizerOnPanic(t *testing.T) {
	th := syncthread.New()
	defer th.Close()
	e := New(th)

	fired := make(chan struct{}, 1)
	e.Register("counter", "Add", Finalizer, func(instance any, args []reflect.Value) {
		fired <- struct{}{}
	})

	func() {
		defer func() { recover() }()
		e.Run("counter", "Add", nil, nil, func() []reflect.Value {
			panic("boom")
		})
	}()

	waitFor(t, fired)
}

func TestUnregisterRemovesOnlyThatDelegate(t *testing.T) {
	th := syncthread.New()
	defer th.Close()
	e := New(th)

	fired := make(chan struct{}, 2)
	tok1 := e.Register("counter", "Add", Prefix, func(any, []reflect.Value) { fired <- struct{}{} })
	e.Register("counter", "Add", Prefix, func(any, []reflect.Value) { fired <- struct{}{} })

	if err := e.Unregister(tok1); err != nil {
		t.Fatal(err)
	}

	e.Run("counter", "Add", nil, nil, func() []reflect.Value { return nil })
	waitFor(t, fired)

	select {
	case <-fired:
		t.Fatal("expected only one remaining delegate to fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnregisterUnknownTokenErrors(t *testing.T) {
	th := syncthread.New()
	defer th.Close()
	e := New(th)

	if err := e.Unregister(Token(999)); err == nil {
		t.Fatal("expected an error for an unknown token")
	}
}

func TestArgToWireMarksNonProxyableKinds(t *testing.T) {
	ch := make(chan int)
	liftCalled := false
	oot := ArgToWire(reflect.ValueOf(ch), func(reflect.Value) value.ObjectOrToken {
		liftCalled = true
		return value.Null_()
	})
	if liftCalled {
		t.Fatal("lift should not be called for a non-proxyable kind")
	}
	if oot.Kind != value.OOTEncoded || oot.EncTypeName != "__not_proxyable__" {
		t.Fatalf("expected not-proxyable sentinel, got %+v", oot)
	}
}

func TestArgToWireDelegatesForProxyableKinds(t *testing.T) {
	liftCalled := false
	_ = ArgToWire(reflect.ValueOf(42), func(reflect.Value) value.ObjectOrToken {
		liftCalled = true
		return value.Encoded("int", "42")
	})
	if !liftCalled {
		t.Fatal("expected lift to be called for a proxyable kind")
	}
}
