package callback

import (
	"sync"
	"testing"
	"time"

	"github.com/agentlink/agentlink/internal/wire/frame"
	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/value"
)

func TestDispatchRoutesInvokeCallbackToRegisteredToken(t *testing.T) {
	l := New()
	defer l.Close()

	var mu sync.Mutex
	var got Invocation
	done := make(chan struct{})
	l.Register(frame.EndpointInvokeCallback, 7, func(inv Invocation) {
		mu.Lock()
		got = inv
		mu.Unlock()
		close(done)
	})

	body := message.InvokeCallbackBody{Token: 7, Parameters: []value.ObjectOrToken{value.Encoded("int32", "1")}}.Encode()
	l.Dispatch(frame.EndpointInvokeCallback, body)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got.Args) != 1 || got.Args[0].EncText != "1" {
		t.Fatalf("unexpected invocation: %+v", got)
	}
}

func TestDispatchWithNoRegisteredHandlerIsSilentlyDropped(t *testing.T) {
	l := New()
	defer l.Close()
	body := message.InvokeCallbackBody{Token: 99}.Encode()
	l.Dispatch(frame.EndpointInvokeCallback, body) // must not panic
}

func TestUnregisterStopsFurtherDelivery(t *testing.T) {
	l := New()
	defer l.Close()
	calls := 0
	var mu sync.Mutex
	l.Register(frame.EndpointHookCallback, 3, func(inv Invocation) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	l.Unregister(frame.EndpointHookCallback, 3)

	body := message.HookCallbackBody{Token: 3, Instance: value.Null_()}.Encode()
	l.Dispatch(frame.EndpointHookCallback, body)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no calls after unregister, got %d", calls)
	}
}
