// Package callback demultiplexes inbound Callback frames (spec.md §4.3
// "invoke_callback"/"hook_callback") by their subscription/hook token
// and dispatches each to the handler the Client registered when it
// subscribed. The handler runs on the connection's read loop, so the
// next frame is not delivered until it returns.
//
// Keyed by the (endpoint, token) pair a subscribe/hook call returned.
package callback

import (
	"log/slog"
	"sync"

	"github.com/agentlink/agentlink/internal/wire/frame"
	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/value"
)

// Invocation is one decoded callback firing: Args always holds the
// event parameters or hook method arguments; Instance is set only for
// a hook_callback, carrying the receiver the hooked method fired on.
type Invocation struct {
	Instance *value.ObjectOrToken
	Args     []value.ObjectOrToken
}

// Handler receives one decoded callback invocation. It must not block
// for long; Offload is available for handlers with real work to do.
type Handler func(inv Invocation)

type key struct {
	endpoint string
	token    uint64
}

// Listener owns one connection's callback routing table.
type Listener struct {
	mu       sync.RWMutex
	handlers map[key]Handler

	workers chan func()
	wg      sync.WaitGroup
}

// New builds a Listener with a small background worker pool for
// Offload.
func New() *Listener {
	l := &Listener{
		handlers: make(map[key]Handler),
		workers:  make(chan func(), 64),
	}
	for i := 0; i < 4; i++ {
		l.wg.Add(1)
		go l.work()
	}
	return l
}

func (l *Listener) work() {
	defer l.wg.Done()
	for fn := range l.workers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("callback: handler panic", "error", r)
				}
			}()
			fn()
		}()
	}
}

// Offload runs fn on the Listener's worker pool instead of the
// connection's read loop.
func (l *Listener) Offload(fn func()) {
	l.workers <- fn
}

// Register installs handler for the subscription/hook token returned
// by SubscribeEvent/HookMethod.
func (l *Listener) Register(endpoint string, token uint64, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[key{endpoint, token}] = handler
}

// Unregister removes a handler; it is a no-op if none was registered,
// matching the wire verbs' idempotent unsubscribe semantics.
func (l *Listener) Unregister(endpoint string, token uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, key{endpoint, token})
}

// Dispatch implements transport.CallbackHandler: it decodes the frame
// body by endpoint shape and routes it to the registered handler.
func (l *Listener) Dispatch(endpoint string, body []byte) {
	switch endpoint {
	case frame.EndpointInvokeCallback:
		b, err := message.DecodeInvokeCallbackBody(body)
		if err != nil {
			slog.Debug("callback: decode invoke_callback failed", "error", err)
			return
		}
		l.route(endpoint, b.Token, Invocation{Args: b.Parameters})

	case frame.EndpointHookCallback:
		b, err := message.DecodeHookCallbackBody(body)
		if err != nil {
			slog.Debug("callback: decode hook_callback failed", "error", err)
			return
		}
		instance := b.Instance
		l.route(endpoint, b.Token, Invocation{Instance: &instance, Args: b.Args})

	default:
		slog.Debug("callback: unrecognised callback endpoint", "endpoint", endpoint)
	}
}

func (l *Listener) route(endpoint string, token uint64, inv Invocation) {
	l.mu.RLock()
	h, ok := l.handlers[key{endpoint, token}]
	l.mu.RUnlock()
	if !ok {
		slog.Debug("callback: no handler for token", "endpoint", endpoint, "token", token)
		return
	}
	h(inv)
}

// Close stops the worker pool once every in-flight Offload has run.
func (l *Listener) Close() {
	close(l.workers)
	l.wg.Wait()
}
