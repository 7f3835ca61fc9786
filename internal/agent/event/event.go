// Package event implements spec.md §4.9 "Event bridge": Subscribe
// introspects the named event's declared shape on a pinned object and
// installs a forwarding closure that turns each firing into an
// outbound Callback frame; Unsubscribe tears the closure back down.
//
// A CLR event is a multicast delegate slot with add/remove accessors.
// Go has no such built-in construct, so this package recognizes three
// declared shapes on the tracked object, tried in order:
//
//   - a `chan X` field named eventName: Subscribe starts a goroutine
//     that ranges over the channel and forwards each value;
//   - a func-typed field named eventName (a "handler slot"):
//     Subscribe combines the existing slot value with the new
//     forwarding func exactly as the hook engine combines delegates;
//   - a type implementing hook.Hookable whose HookableMethods()
//     includes an "On"+eventName method: Subscribe installs a prefix
//     hook.Engine registration on it instead.
package event

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/agentlink/agentlink/internal/agent/hook"
	"github.com/agentlink/agentlink/internal/agent/pin"
	"github.com/agentlink/agentlink/internal/agenterr"
)

// Token identifies one subscription, returned to the Client so it can
// unsubscribe later (spec.md §4.3 "event_unsubscribe").
type Token uint64

// Forward is invoked once per event firing with the raw argument values
// (sender included, when the declared shape carries one). The router
// wraps this to encode a Callback frame and deliver it to the Client
// that subscribed.
type Forward func(args []reflect.Value)

type subscription struct {
	token   Token
	unhook  func()
}

// Bridge is the Agent-side event bridge.
type Bridge struct {
	mu      sync.Mutex
	nextTok uint64
	subs    map[Token]subscription
	hooks   *hook.Engine
	pins    *pin.Table
}

func New(hooks *hook.Engine, pins *pin.Table) *Bridge {
	return &Bridge{
		subs:  make(map[Token]subscription),
		hooks: hooks,
		pins:  pins,
	}
}

// Subscribe installs a forwarding closure on objectToken's event named
// eventName, delivering each firing to fwd. It returns a Token usable
// with Unsubscribe.
func (b *Bridge) Subscribe(objectToken pin.Token, eventName string, fwd Forward) (Token, error) {
	obj, ok := b.pins.TryGet(objectToken)
	if !ok {
		return 0, agenterr.State("subscribe: token not pinned: %d", objectToken)
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return 0, agenterr.Resolution("subscribe: %T is not a struct", obj)
	}

	field := rv.FieldByName(eventName)
	if field.IsValid() && field.CanInterface() {
		switch field.Kind() {
		case reflect.Chan:
			return b.subscribeChannel(field, fwd), nil
		case reflect.Func:
			return b.subscribeHandlerSlot(field, fwd), nil
		}
	}

	typeName := rv.Type().Name()
	if hk, ok := obj.(hook.Hookable); ok {
		for _, m := range hk.HookableMethods() {
			if m == "On"+eventName {
				return b.subscribeHook(typeName, m, fwd), nil
			}
		}
	}

	return 0, agenterr.Resolution("subscribe: %s has no event named %s", rv.Type(), eventName)
}

func (b *Bridge) subscribeChannel(ch reflect.Value, fwd Forward) Token {
	stop := make(chan struct{})
	go func() {
		for {
			cases := []reflect.SelectCase{
				{Dir: reflect.SelectRecv, Chan: ch},
				{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(stop)},
			}
			chosen, recv, ok := reflect.Select(cases)
			if chosen == 1 || !ok {
				return
			}
			fwd([]reflect.Value{recv})
		}
	}()

	return b.register(func() { close(stop) })
}

func (b *Bridge) subscribeHandlerSlot(slot reflect.Value, fwd Forward) Token {
	forwarder := reflect.MakeFunc(slot.Type(), func(args []reflect.Value) []reflect.Value {
		fwd(args)
		out := make([]reflect.Value, slot.Type().NumOut())
		for i := range out {
			out[i] = reflect.Zero(slot.Type().Out(i))
		}
		return out
	})

	original := slot
	combined := combineHandlers(original, forwarder)
	if slot.CanSet() {
		slot.Set(combined)
	}

	return b.register(func() {
		if slot.CanSet() {
			slot.Set(original)
		}
	})
}

// combineHandlers builds a func value that calls original (if non-nil)
// then forwarder, mirroring the hook engine's delegate-combining for
// multicast handler slots (spec.md §4.8/§4.9 share this mechanic).
func combineHandlers(original, forwarder reflect.Value) reflect.Value {
	return reflect.MakeFunc(original.Type(), func(args []reflect.Value) []reflect.Value {
		if !original.IsNil() {
			original.Call(args)
		}
		return forwarder.Call(args)
	})
}

func (b *Bridge) subscribeHook(typeName, method string, fwd Forward) Token {
	tok := b.hooks.Register(typeName, method, hook.Prefix, func(_ any, args []reflect.Value) {
		fwd(args)
	})
	return b.register(func() { b.hooks.Unregister(tok) })
}

func (b *Bridge) register(unhook func()) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTok++
	tok := Token(b.nextTok)
	b.subs[tok] = subscription{token: tok, unhook: unhook}
	return tok
}

// Unsubscribe tears down the forwarding closure installed by Subscribe.
// It is idempotent: unsubscribing an already-removed token is a no-op,
// mirroring the pinning table's and hook engine's own idempotence.
func (b *Bridge) Unsubscribe(token Token) error {
	b.mu.Lock()
	sub, ok := b.subs[token]
	if ok {
		delete(b.subs, token)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	sub.unhook()
	return nil
}

// Len reports the number of live subscriptions, used by tests.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bridge) String() string {
	return fmt.Sprintf("event.Bridge{%d subscriptions}", b.Len())
}
