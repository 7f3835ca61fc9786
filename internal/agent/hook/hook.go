// Package hook implements spec.md §4.8 "Hook engine": installation of
// prefix/postfix/finalizer interceptors on target methods, delegate
// combination on repeat registration at the same position, and
// callback dispatch carrying the original instance and arguments.
//
// Go cannot rewrite a compiled method's prologue/epilogue the way a CLR
// profiler or an IL-rewriting patcher can. The pragmatic stand-in
// adopted here is a registration point: any tracked
// type that wants to be hookable implements Hookable, routing its own
// method calls through Engine.Run so the Engine can splice interceptors
// in around them without touching machine code.
package hook

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/agentlink/agentlink/internal/agent/syncthread"
	"github.com/agentlink/agentlink/internal/agenterr"
	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/value"
)

// Position is the hook position sentinel, mirroring
// message.HookPosition (spec.md §4.8 "{prefix, postfix, finalizer}").
type Position = message.HookPosition

const (
	Prefix    = message.HookPrefix
	Postfix   = message.HookPostfix
	Finalizer = message.HookFinalizer
)

// Hookable is implemented by a tracked type's methods that should be
// interceptable. The hosted application routes each such method's body
// through Engine.Run(instance, methodName, args, original), which
// invokes any registered interceptors at the right position around the
// call to original.
type Hookable interface {
	HookableMethods() []string
}

// Token identifies one interceptor registration, returned to the Client
// so it can unhook later (spec.md §4.3 "hook_method" response).
type Token uint64

// NotProxyable is an error naming an argument type that cannot be
// proxied. ArgToWire does not use it: such arguments are encoded as a
// plain "__not_proxyable__" value instead (see ArgToWire).
type NotProxyable struct{ typeName string }

func (n NotProxyable) Error() string {
	return fmt.Sprintf("hook: argument of type %s is not proxyable", n.typeName)
}

type registration struct {
	token    Token
	callback func(instance any, args []reflect.Value)
}

type methodKey struct {
	typeName string
	method   string
	position Position
}

// Engine is the Agent-side hook engine.
type Engine struct {
	mu      sync.Mutex
	byKey   map[methodKey][]registration
	byToken map[Token]methodKey
	nextTok uint64
	thread  *syncthread.Thread
}

func New(thread *syncthread.Thread) *Engine {
	return &Engine{
		byKey:   make(map[methodKey][]registration),
		byToken: make(map[Token]methodKey),
		thread:  thread,
	}
}

// Register installs an interceptor at typeName.method/position. A second
// registration at the same position combines delegates rather than
// replacing (spec.md §4.8 "A single target method may carry multiple
// interceptors; a second registration at the same position combines
// delegates rather than replacing").
func (e *Engine) Register(typeName, method string, pos Position, callback func(instance any, args []reflect.Value)) Token {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextTok++
	tok := Token(e.nextTok)
	key := methodKey{typeName: typeName, method: method, position: pos}
	e.byKey[key] = append(e.byKey[key], registration{token: tok, callback: callback})
	e.byToken[tok] = key
	return tok
}

// Unregister removes only the delegate identified by token; when the
// last delegate at a position is gone the interceptor is effectively
// removed for that (type, method, position) (spec.md §4.8).
func (e *Engine) Unregister(token Token) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key, ok := e.byToken[token]
	if !ok {
		return agenterr.State("hook token not registered: %d", token)
	}
	delete(e.byToken, token)

	regs := e.byKey[key]
	for i, r := range regs {
		if r.token == token {
			e.byKey[key] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(e.byKey[key]) == 0 {
		delete(e.byKey, key)
	}
	return nil
}

// Run is called from inside a Hookable method's body (the registration
// point). It fires every prefix interceptor, invokes original, fires
// every postfix interceptor with the result, and — regardless of a
// panic from original — fires every finalizer interceptor, recovering
// and re-panicking to preserve the target's own panic semantics.
// Interceptor callbacks are enqueued onto the synchronisation thread
// before control returns to original, per spec.md §4.8 "the engine
// enqueues the interceptor callback onto the synchronisation thread
// keyed by the target method's unique identity, then returns control to
// the original method."
func (e *Engine) Run(typeName, method string, instance any, args []reflect.Value, original func() []reflect.Value) (result []reflect.Value) {
	e.fire(typeName, method, Prefix, instance, args)

	defer func() {
		r := recover()
		e.fire(typeName, method, Finalizer, instance, args)
		if r != nil {
			panic(r)
		}
	}()

	result = original()
	e.fire(typeName, method, Postfix, instance, append(append([]reflect.Value{}, args...), result...))
	return result
}

func (e *Engine) fire(typeName, method string, pos Position, instance any, args []reflect.Value) {
	e.mu.Lock()
	regs := append([]registration{}, e.byKey[methodKey{typeName: typeName, method: method, position: pos}]...)
	e.mu.Unlock()

	for _, r := range regs {
		cb := r.callback
		e.thread.Post(func() { cb(instance, args) })
	}
}

// ArgToWire converts a hook callback argument to an Object-or-token,
// substituting an Encoded value of type "__not_proxyable__", whose text
// is the argument's Go type name, for argument kinds that cannot be
// proxied by reference (channels, funcs and unsafe pointers, Go's
// nearest analogue to by-ref value types). That value is ordinary data:
// reading it neither panics nor returns an error. liftFn lifts a
// proxyable reflect.Value to a wire value (typically
// dispatch.Dispatcher.LiftReturn wrapped to accept a bare
// reflect.Value).
func ArgToWire(v reflect.Value, liftFn func(reflect.Value) value.ObjectOrToken) value.ObjectOrToken {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return value.Encoded("__not_proxyable__", v.Type().String())
	}
	return liftFn(v)
}

// PrebuiltArities documents spec.md §4.8/§9's "Interceptor entry-points
// are prebuilt for arities 0..10" / "historical... larger arities should
// be emitted by a code generator rather than handwritten": Go's
// reflect-based Run above handles any arity uniformly, so no actual
// arity ceiling exists in this implementation — the constant remains
// only to document the spec's historical reasoning for callers that
// pre-size argument buffers.
const PrebuiltArities = 10
