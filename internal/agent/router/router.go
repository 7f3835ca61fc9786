// Package router implements spec.md §4.10 "Request router": the static
// endpoint -> handler table wiring the pinning table, snapshot runtime,
// reflective dispatcher, hook engine, and event bridge together, and
// converting every handler outcome into a wire Envelope.
//
// A compile-time table of endpoint strings to handler funcs, looked up
// once per request.
package router

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/agentlink/agentlink/internal/agent/dispatch"
	"github.com/agentlink/agentlink/internal/agent/event"
	"github.com/agentlink/agentlink/internal/agent/hook"
	"github.com/agentlink/agentlink/internal/agent/pin"
	"github.com/agentlink/agentlink/internal/agent/snapshot"
	"github.com/agentlink/agentlink/internal/agent/syncthread"
	"github.com/agentlink/agentlink/internal/agent/typesys"
	"github.com/agentlink/agentlink/internal/agenterr"
	"github.com/agentlink/agentlink/internal/wire/frame"
	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/transport"
	"github.com/agentlink/agentlink/internal/wire/value"
)

// handlerFunc answers one decoded request with an encoded response
// body, or an error to be collapsed into an error Envelope.
type handlerFunc func(ctx context.Context, body []byte) ([]byte, error)

// Router is the Agent's request router; it implements
// transport.RequestHandler via Handle.
type Router struct {
	Runtime    *snapshot.Runtime
	Pins       *pin.Table
	Dispatcher *dispatch.Dispatcher
	Hooks      *hook.Engine
	Events     *event.Bridge
	Thread     *syncthread.Thread

	mu       sync.Mutex
	clients  map[int64]struct{}
	handlers map[string]handlerFunc

	// callbackSender delivers an outbound Callback frame for a given
	// endpoint (invoke_callback / hook_callback) to the connection that
	// owns a subscription; set by the server once a Conn is accepted.
	callbackSender func(endpoint string, body []byte) error
}

// New builds a Router with a fresh Runtime/Pins/Dispatcher/Hooks/Events
// wired to a shared type arena and synchronisation thread, matching the
// dependency graph of SPEC_FULL.md §4.
func New() *Router {
	arena := typesys.NewArena()
	rt := snapshot.NewRuntime(arena)
	pins := pin.NewTable(rt)
	thread := syncthread.New()
	hooks := hook.New(thread)
	events := event.New(hooks, pins)
	d := dispatch.New(arena, pins, dispatch.NewEnumRegistry())

	r := &Router{
		Runtime:    rt,
		Pins:       pins,
		Dispatcher: d,
		Hooks:      hooks,
		Events:     events,
		Thread:     thread,
		clients:    make(map[int64]struct{}),
	}
	r.handlers = r.buildTable()
	return r
}

// SetCallbackSender installs the function used to deliver Callback
// frames, called once by the server after accepting a connection.
func (r *Router) SetCallbackSender(send func(endpoint string, body []byte) error) {
	r.callbackSender = send
}

func (r *Router) buildTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		frame.EndpointPing:             r.handlePing,
		frame.EndpointRegisterClient:   r.handleRegisterClient,
		frame.EndpointUnregisterClient: r.handleUnregisterClient,
		frame.EndpointDomains:          r.handleDomains,
		frame.EndpointTypes:            r.handleTypes,
		frame.EndpointType:             r.handleType,
		frame.EndpointHeap:             r.handleHeap,
		frame.EndpointObject:           r.handleObject,
		frame.EndpointCreateObject:     r.handleCreateObject,
		frame.EndpointInvoke:           r.handleInvoke,
		frame.EndpointGetField:         r.handleGetField,
		frame.EndpointSetField:         r.handleSetField,
		frame.EndpointGetItem:          r.handleGetItem,
		frame.EndpointUnpin:            r.handleUnpin,
		frame.EndpointEventSubscribe:   r.handleEventSubscribe,
		frame.EndpointEventUnsubscribe: r.handleEventUnsubscribe,
		frame.EndpointHookMethod:       r.handleHookMethod,
		frame.EndpointUnhookMethod:     r.handleUnhookMethod,
	}
}

// Handle implements transport.RequestHandler. It always returns a
// non-nil body and a nil error: every failure is collapsed into an
// Envelope so the Client always gets a response (spec.md §4.3 "every
// response... {is_error, error_message?, error_stack?, data?}").
func (r *Router) Handle(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	h, ok := r.handlers[endpoint]
	if !ok {
		return message.EncodeEnvelope(message.Err(
			agenterr.Protocol("unknown endpoint: %s", endpoint).Error(), "")), nil
	}

	data, err := h(ctx, body)
	if err != nil {
		stack := ""
		if ae, ok := err.(*agenterr.Error); ok {
			stack = ae.Stack
		}
		return message.EncodeEnvelope(message.Err(err.Error(), stack)), nil
	}
	return message.EncodeEnvelope(message.OK(data)), nil
}

var _ transport.RequestHandler = (&Router{}).Handle

func (r *Router) handlePing(ctx context.Context, body []byte) ([]byte, error) {
	return message.PingResponse{Status: "ok"}.Encode(), nil
}

func (r *Router) handleRegisterClient(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeClientIDRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode register_client: %v", err)
	}
	r.mu.Lock()
	r.clients[req.ProcessID] = struct{}{}
	n := len(r.clients)
	r.mu.Unlock()
	return message.ClientCountResponse{Removed: false, Remaining: int32(n)}.Encode(), nil
}

func (r *Router) handleUnregisterClient(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeClientIDRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode unregister_client: %v", err)
	}
	r.mu.Lock()
	_, existed := r.clients[req.ProcessID]
	delete(r.clients, req.ProcessID)
	n := len(r.clients)
	r.mu.Unlock()
	return message.ClientCountResponse{Removed: existed, Remaining: int32(n)}.Encode(), nil
}

// handleDomains answers spec.md §4.3 "domains": a single logical domain
// (the Agent's own process — Go has no AppDomain analogue) and the
// distinct modules visible in it. A "module" is the
// package path of every type the tracked-object registry has seen, the
// same (assembly, full-name) identity spec.md §3 "Type descriptor" uses
// elsewhere.
func (r *Router) handleDomains(ctx context.Context, body []byte) ([]byte, error) {
	seen := make(map[string]struct{})
	var modules []string
	for _, d := range r.Runtime.Arena().All() {
		if d.Assembly == "" {
			continue
		}
		if _, ok := seen[d.Assembly]; ok {
			continue
		}
		seen[d.Assembly] = struct{}{}
		modules = append(modules, d.Assembly)
	}
	sort.Strings(modules)
	return message.DomainsResponse{DomainName: domainName(), Modules: modules}.Encode(), nil
}

// domainName stands in for the CLR's current AppDomain.FriendlyName: the
// running executable's base name.
func domainName() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}
	return filepath.Base(exe)
}

func (r *Router) handleTypes(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeTypesRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode types: %v", err)
	}
	var names []string
	for _, d := range r.Runtime.Arena().All() {
		if req.Assembly == "" || d.Assembly == req.Assembly {
			names = append(names, d.FullName)
		}
	}
	return message.TypesResponse{Assembly: req.Assembly, Types: names}.Encode(), nil
}

func (r *Router) handleType(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeTypeRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode type: %v", err)
	}
	if err := message.Validate(req); err != nil {
		return nil, agenterr.Protocol("invalid type request: %v", err)
	}
	d, ok := r.Runtime.Arena().Resolve(req.Assembly, req.FullName)
	if !ok {
		return nil, agenterr.Resolution("type not found: %s", req.FullName)
	}
	return message.EncodeTypeResponse(r.Runtime.Arena().ToWire(d)), nil
}

func (r *Router) handleHeap(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeHeapRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode heap: %v", err)
	}

	snap := r.Runtime.Refresh()
	objs, err := r.Runtime.Enumerate(snap, snapshot.EnumerateOptions{
		TypeFilter: req.TypeFilter, DumpHashcodes: req.DumpHashcodes,
	})
	if err == snapshot.ErrInconsistent {
		// One retry on a fresh snapshot per spec.md §4.6's consistency
		// contract; a second inconsistency is surfaced to the Client.
		snap = r.Runtime.Refresh()
		objs, err = r.Runtime.Enumerate(snap, snapshot.EnumerateOptions{
			TypeFilter: req.TypeFilter, DumpHashcodes: req.DumpHashcodes,
		})
	}
	if err != nil {
		return nil, agenterr.State("heap walk: %v", err)
	}

	out := make([]message.HeapObject, len(objs))
	for i, o := range objs {
		out[i] = message.HeapObject{Address: o.Address, Type: o.TypeName, HasHashcode: o.HasHash, Hashcode: o.Hashcode}
	}
	return message.HeapResponse{Objects: out}.Encode(), nil
}

func (r *Router) handleObject(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeObjectRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode object: %v", err)
	}

	obj, fp, live := r.Runtime.Lookup(req.Address)
	if !live {
		return nil, agenterr.ErrMoved
	}

	var tok pin.Token
	if req.Pin {
		tok = r.Pins.Pin(obj)
	}

	members, err := r.dumpMembers(fp, obj)
	if err != nil {
		return nil, err
	}
	return message.ObjectResponse{Token: uint64(tok), Members: members}.Encode(), nil
}

// dumpMembers lifts every exported field of obj to a wire member value,
// per spec.md §4.3 "object" response's eager field/property dump.
func (r *Router) dumpMembers(fp typesys.Fingerprint, obj any) ([]message.MemberValue, error) {
	desc, ok := r.Runtime.Arena().Resolve(fp.Assembly, fp.FullName)
	if !ok {
		return nil, agenterr.Resolution("type not found: %s", fp.FullName)
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	var out []message.MemberValue
	for _, m := range desc.Members {
		if m.Kind != typesys.MemberField {
			continue
		}
		fv := rv.Field(m.Index)
		res := dispatch.Result{Value: fv}
		out = append(out, message.MemberValue{Name: m.Name, Value: r.Dispatcher.LiftReturn(res)})
	}
	return out, nil
}

func (r *Router) handleCreateObject(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeCreateObjectRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode create_object: %v", err)
	}
	if err := message.Validate(req); err != nil {
		return nil, agenterr.Protocol("invalid create_object request: %v", err)
	}

	desc, ok := r.Runtime.Arena().Resolve("", req.TypeFullName)
	if !ok {
		return nil, agenterr.Resolution("type not found: %s", req.TypeFullName)
	}

	// No declared constructor member is modeled (spec.md's "Constructor"
	// member kind has no Go analogue beyond zero-value allocation); the
	// supplied parameters seed exported fields positionally, and a type
	// wanting real construction logic exposes an explicit "New"-style
	// method invoked separately through InvokeStatic.
	ptr := reflect.New(desc.GoType)
	for i, p := range req.Parameters {
		if i >= ptr.Elem().NumField() {
			break
		}
		field := ptr.Elem().Field(i)
		if !field.CanSet() {
			continue
		}
		parsed, err := value.ParseEncoded(p.EncTypeName, p.EncText)
		if err != nil {
			continue
		}
		gv := reflect.ValueOf(value.ToGo(parsed))
		if gv.IsValid() && gv.Type().AssignableTo(field.Type()) {
			field.Set(gv)
		}
	}

	obj := ptr.Interface()
	r.Runtime.Track(obj)
	tok := r.Pins.Pin(obj)
	return message.InvocationResult{Returned: value.Pinned(uint64(tok), req.TypeFullName)}.Encode(), nil
}

func (r *Router) handleInvoke(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeInvokeRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode invoke: %v", err)
	}
	if err := message.Validate(req); err != nil {
		return nil, agenterr.Protocol("invalid invoke request: %v", err)
	}

	run := func() (dispatch.Result, error) {
		handle, ok := r.Runtime.HandleOf(req.ObjAddress)
		if ok {
			obj, _, live := r.Runtime.Lookup(req.ObjAddress)
			if live {
				tok := r.Pins.Pin(obj)
				return r.Dispatcher.InvokeInstance(tok, req.ObjAddress, handle.MethodTable, req.TypeFullName, req.Method, req.GenericArgs, req.Parameters)
			}
		}
		return r.Dispatcher.InvokeStatic(req.TypeFullName, "", req.Method, req.GenericArgs, req.Parameters)
	}

	var res dispatch.Result
	if req.ForceUIThread {
		v, err := r.Thread.Run(ctx, func() (any, error) {
			res, err := run()
			return res, err
		})
		if err != nil {
			return nil, err
		}
		res = v.(dispatch.Result)
	} else {
		res, err = run()
		if err != nil {
			return nil, err
		}
	}

	if res.IsVoid {
		return message.InvocationResult{IsVoid: true}.Encode(), nil
	}
	return message.InvocationResult{Returned: r.Dispatcher.LiftReturn(res)}.Encode(), nil
}

func (r *Router) handleGetField(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeFieldRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode get_field: %v", err)
	}
	obj, fp, live := r.Runtime.Lookup(req.ObjAddress)
	if !live {
		return nil, agenterr.ErrMoved
	}
	desc, ok := r.Runtime.Arena().Resolve(fp.Assembly, fp.FullName)
	if !ok {
		return nil, agenterr.Resolution("type not found: %s", fp.FullName)
	}
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	fv := rv.FieldByName(req.Field)
	if !fv.IsValid() {
		for _, m := range desc.Members {
			if m.Kind == typesys.MemberField && m.Name == req.Field {
				fv = rv.Field(m.Index)
			}
		}
	}
	if !fv.IsValid() {
		return nil, agenterr.Resolution("field not found: %s.%s", fp.FullName, req.Field)
	}
	return message.InvocationResult{Returned: r.Dispatcher.LiftReturn(dispatch.Result{Value: fv})}.Encode(), nil
}

func (r *Router) handleSetField(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeFieldRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode set_field: %v", err)
	}
	obj, _, live := r.Runtime.Lookup(req.ObjAddress)
	if !live {
		return nil, agenterr.ErrMoved
	}
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	fv := rv.FieldByName(req.Field)
	if !fv.IsValid() || !fv.CanSet() {
		return nil, agenterr.Resolution("field not settable: %s", req.Field)
	}
	parsed, err := value.ParseEncoded(req.Value.EncTypeName, req.Value.EncText)
	if err != nil {
		return nil, agenterr.Resolution("set_field: %v", err)
	}
	gv := reflect.ValueOf(value.ToGo(parsed))
	if !gv.IsValid() || !gv.Type().AssignableTo(fv.Type()) {
		return nil, agenterr.Resolution("cannot assign value to field %s", req.Field)
	}
	fv.Set(gv)
	return message.InvocationResult{IsVoid: true}.Encode(), nil
}

func (r *Router) handleGetItem(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeGetItemRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode get_item: %v", err)
	}
	obj, _, live := r.Runtime.Lookup(req.CollectionAddress)
	if !live {
		return nil, agenterr.ErrMoved
	}
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	idxVal, err := value.ParseEncoded(req.Index.EncTypeName, req.Index.EncText)
	if err != nil {
		return nil, agenterr.Resolution("get_item: %v", err)
	}
	idx, ok := value.ToGo(idxVal).(int64)
	if !ok {
		return nil, agenterr.Resolution("get_item: index must be an integer")
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if idx < 0 || int(idx) >= rv.Len() {
			return nil, agenterr.Resolution("get_item: index out of range")
		}
		elem := rv.Index(int(idx))
		return message.InvocationResult{Returned: r.Dispatcher.LiftReturn(dispatch.Result{Value: elem})}.Encode(), nil
	default:
		return nil, agenterr.Resolution("get_item: %s is not indexable", rv.Kind())
	}
}

func (r *Router) handleUnpin(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeUnpinRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode unpin: %v", err)
	}
	// The wire field is named Address for consistency with every other
	// verb's object-identifying field, but it carries the pin token
	// returned by object/invoke/create_object (spec.md §4.5); unpin is
	// idempotent for an already-released or unknown token (spec.md §8).
	r.Pins.Unpin(pin.Token(req.Address))
	return message.InvocationResult{IsVoid: true}.Encode(), nil
}

func (r *Router) handleEventSubscribe(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeEventSubscribeRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode event_subscribe: %v", err)
	}
	if err := message.Validate(req); err != nil {
		return nil, agenterr.Protocol("invalid event_subscribe request: %v", err)
	}
	obj, _, live := r.Runtime.Lookup(req.Address)
	if !live {
		return nil, agenterr.ErrMoved
	}
	tok := r.Pins.Pin(obj)

	// subTok is assigned below, after Subscribe hands it back, but the
	// forwarding closure captures the variable (not its zero value) so
	// every callback frame still carries the token the Client
	// subscribed with.
	var subTok event.Token
	fwd := func(args []reflect.Value) {
		if r.callbackSender == nil {
			return
		}
		oots := make([]value.ObjectOrToken, len(args))
		for i, a := range args {
			oots[i] = r.Dispatcher.LiftReturn(dispatch.Result{Value: a})
		}
		body := message.InvokeCallbackBody{Token: uint64(subTok), Parameters: oots}.Encode()
		r.callbackSender(req.CallbackEndpoint, body)
	}

	subTok, err = r.Events.Subscribe(tok, req.Event, fwd)
	if err != nil {
		return nil, err
	}
	return message.TokenResponse{Token: uint64(subTok)}.Encode(), nil
}

func (r *Router) handleEventUnsubscribe(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeTokenRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode event_unsubscribe: %v", err)
	}
	if err := r.Events.Unsubscribe(event.Token(req.Token)); err != nil {
		return nil, err
	}
	return message.InvocationResult{IsVoid: true}.Encode(), nil
}

func (r *Router) handleHookMethod(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeHookMethodRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode hook_method: %v", err)
	}
	if err := message.Validate(req); err != nil {
		return nil, agenterr.Protocol("invalid hook_method request: %v", err)
	}

	// tok is assigned after Register returns but the callback closure
	// captures the variable, so hook_callback frames still identify
	// which registration fired.
	var tok hook.Token
	tok = r.Hooks.Register(req.Type, req.Method, hook.Position(req.Position), func(instance any, args []reflect.Value) {
		if r.callbackSender == nil {
			return
		}
		oots := make([]value.ObjectOrToken, len(args))
		for i, a := range args {
			oots[i] = hook.ArgToWire(a, r.liftReflectValue)
		}
		var instOOT value.ObjectOrToken
		if instance != nil {
			instOOT = r.pinAsOOT(instance)
		} else {
			instOOT = value.Null_()
		}
		callbackBody := message.HookCallbackBody{Token: uint64(tok), Instance: instOOT, Args: oots}.Encode()
		r.callbackSender(frame.EndpointHookCallback, callbackBody)
	})
	return message.TokenResponse{Token: uint64(tok)}.Encode(), nil
}

func (r *Router) liftReflectValue(v reflect.Value) value.ObjectOrToken {
	return r.Dispatcher.LiftReturn(dispatch.Result{Value: v})
}

func (r *Router) pinAsOOT(instance any) value.ObjectOrToken {
	return r.Dispatcher.LiftReturn(dispatch.Result{Value: reflect.ValueOf(instance)})
}

func (r *Router) handleUnhookMethod(ctx context.Context, body []byte) ([]byte, error) {
	req, err := message.DecodeTokenRequest(body)
	if err != nil {
		return nil, agenterr.Protocol("decode unhook_method: %v", err)
	}
	if err := r.Hooks.Unregister(hook.Token(req.Token)); err != nil {
		return nil, err
	}
	return message.InvocationResult{IsVoid: true}.Encode(), nil
}
