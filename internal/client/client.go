// Package client implements the Client half of spec.md §4: a thin
// wrapper over transport.Conn exposing one method per wire verb, plus
// the ambient "force UI thread" request scope and a diagnostic
// connection id used in logging.
//
// Every helper wraps a single request/response round trip through
// transport.Conn.SendRequest in a typed method.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/agentlink/agentlink/internal/client/callback"
	"github.com/agentlink/agentlink/internal/wire/frame"
	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/transport"
	"github.com/agentlink/agentlink/internal/wire/value"
)

// forceUIThreadKey is the context key toggling InvokeRequest.ForceUIThread
// for every Invoke call made with a derived context (spec.md §4.9
// "Ambient UI-thread scope").
type forceUIThreadKey struct{}

// WithForceUIThread returns a context under which Invoke marshals the
// call onto the Agent's synchronisation thread.
func WithForceUIThread(ctx context.Context) context.Context {
	return context.WithValue(ctx, forceUIThreadKey{}, true)
}

func forceUIThread(ctx context.Context) bool {
	v, _ := ctx.Value(forceUIThreadKey{}).(bool)
	return v
}

// Client is one Client-side connection to an Agent.
type Client struct {
	ID       string
	conn     *transport.Conn
	Callback *callback.Listener
}

// Dial connects to an Agent listening at addr and starts the
// connection's reader/writer loops.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn := transport.New(nc)
	cb := callback.New()
	conn.SetCallbackHandler(cb.Dispatch)
	conn.Start()

	c := &Client{ID: uuid.NewString(), conn: conn, Callback: cb}
	slog.Debug("client: connected", "id", c.ID, "addr", addr)
	return c, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, endpoint string, body []byte) (message.Envelope, error) {
	respBody, err := c.conn.SendRequest(ctx, endpoint, body)
	if err != nil {
		return message.Envelope{}, err
	}
	env, err := message.DecodeEnvelope(respBody)
	if err != nil {
		return message.Envelope{}, fmt.Errorf("client: decode envelope: %w", err)
	}
	if env.IsError {
		return env, fmt.Errorf("%s", env.ErrorMessage)
	}
	return env, nil
}

func (c *Client) Ping(ctx context.Context) (message.PingResponse, error) {
	env, err := c.call(ctx, frame.EndpointPing, nil)
	if err != nil {
		return message.PingResponse{}, err
	}
	return message.DecodePingResponse(env.Data)
}

func (c *Client) RegisterSelf(ctx context.Context, pid int64) (message.ClientCountResponse, error) {
	env, err := c.call(ctx, frame.EndpointRegisterClient, message.ClientIDRequest{ProcessID: pid}.Encode())
	if err != nil {
		return message.ClientCountResponse{}, err
	}
	return message.DecodeClientCountResponse(env.Data)
}

func (c *Client) UnregisterSelf(ctx context.Context, pid int64) (message.ClientCountResponse, error) {
	env, err := c.call(ctx, frame.EndpointUnregisterClient, message.ClientIDRequest{ProcessID: pid}.Encode())
	if err != nil {
		return message.ClientCountResponse{}, err
	}
	return message.DecodeClientCountResponse(env.Data)
}

// Domains reports the Agent's application domain and the modules loaded
// in it, per spec.md §4.3 "domains".
func (c *Client) Domains(ctx context.Context) (message.DomainsResponse, error) {
	env, err := c.call(ctx, frame.EndpointDomains, nil)
	if err != nil {
		return message.DomainsResponse{}, err
	}
	return message.DecodeDomainsResponse(env.Data)
}

func (c *Client) Types(ctx context.Context, assembly string) (message.TypesResponse, error) {
	env, err := c.call(ctx, frame.EndpointTypes, message.TypesRequest{Assembly: assembly}.Encode())
	if err != nil {
		return message.TypesResponse{}, err
	}
	return message.DecodeTypesResponse(env.Data)
}

func (c *Client) Type(ctx context.Context, assembly, fullName string) (message.TypeDescriptor, error) {
	req := message.TypeRequest{FullName: fullName, Assembly: assembly}
	env, err := c.call(ctx, frame.EndpointType, req.Encode())
	if err != nil {
		return message.TypeDescriptor{}, err
	}
	return message.DecodeTypeResponse(env.Data)
}

func (c *Client) Heap(ctx context.Context, typeFilter string, dumpHashcodes bool) (message.HeapResponse, error) {
	req := message.HeapRequest{TypeFilter: typeFilter, DumpHashcodes: dumpHashcodes}
	env, err := c.call(ctx, frame.EndpointHeap, req.Encode())
	if err != nil {
		return message.HeapResponse{}, err
	}
	return message.DecodeHeapResponse(env.Data)
}

func (c *Client) Object(ctx context.Context, address uint64, pin bool) (message.ObjectResponse, error) {
	req := message.ObjectRequest{Address: address, Pin: pin}
	env, err := c.call(ctx, frame.EndpointObject, req.Encode())
	if err != nil {
		return message.ObjectResponse{}, err
	}
	return message.DecodeObjectResponse(env.Data)
}

func (c *Client) CreateObject(ctx context.Context, typeFullName string, params []value.ObjectOrToken) (message.InvocationResult, error) {
	req := message.CreateObjectRequest{TypeFullName: typeFullName, Parameters: params}
	env, err := c.call(ctx, frame.EndpointCreateObject, req.Encode())
	if err != nil {
		return message.InvocationResult{}, err
	}
	return message.DecodeInvocationResult(env.Data)
}

// Invoke dispatches a method call; ForceUIThread is taken from ctx
// (see WithForceUIThread) rather than passed explicitly so every call
// site doesn't have to thread it through.
func (c *Client) Invoke(ctx context.Context, objAddress uint64, typeFullName, method string, genericArgs []string, params []value.ObjectOrToken) (message.InvocationResult, error) {
	req := message.InvokeRequest{
		ObjAddress:    objAddress,
		TypeFullName:  typeFullName,
		Method:        method,
		GenericArgs:   genericArgs,
		Parameters:    params,
		ForceUIThread: forceUIThread(ctx),
	}
	env, err := c.call(ctx, frame.EndpointInvoke, req.Encode())
	if err != nil {
		return message.InvocationResult{}, err
	}
	return message.DecodeInvocationResult(env.Data)
}

func (c *Client) GetField(ctx context.Context, objAddress uint64, typeFullName, field string) (message.InvocationResult, error) {
	req := message.FieldRequest{ObjAddress: objAddress, TypeFullName: typeFullName, Field: field}
	env, err := c.call(ctx, frame.EndpointGetField, req.Encode())
	if err != nil {
		return message.InvocationResult{}, err
	}
	return message.DecodeInvocationResult(env.Data)
}

func (c *Client) SetField(ctx context.Context, objAddress uint64, typeFullName, field string, v value.ObjectOrToken) error {
	req := message.FieldRequest{ObjAddress: objAddress, TypeFullName: typeFullName, Field: field, Value: v, HasValue: true}
	_, err := c.call(ctx, frame.EndpointSetField, req.Encode())
	return err
}

func (c *Client) GetItem(ctx context.Context, collectionAddress uint64, index value.ObjectOrToken, pin bool) (message.InvocationResult, error) {
	req := message.GetItemRequest{CollectionAddress: collectionAddress, Index: index, Pin: pin}
	env, err := c.call(ctx, frame.EndpointGetItem, req.Encode())
	if err != nil {
		return message.InvocationResult{}, err
	}
	return message.DecodeInvocationResult(env.Data)
}

// Unpin releases a pin token; idempotent per spec.md §8.
func (c *Client) Unpin(ctx context.Context, token uint64) error {
	_, err := c.call(ctx, frame.EndpointUnpin, message.UnpinRequest{Address: token}.Encode())
	return err
}

// SubscribeEvent registers fwd as the local handler for callback
// frames the Agent sends to callbackEndpoint and asks the Agent to
// start forwarding objectAddress's named event there, returning the
// subscription token used to unsubscribe and to demultiplex inbound
// frames.
func (c *Client) SubscribeEvent(ctx context.Context, objectAddress uint64, event string, fwd callback.Handler) (uint64, error) {
	req := message.EventSubscribeRequest{Address: objectAddress, Event: event, CallbackEndpoint: frame.EndpointInvokeCallback}
	env, err := c.call(ctx, frame.EndpointEventSubscribe, req.Encode())
	if err != nil {
		return 0, err
	}
	resp, err := message.DecodeTokenResponse(env.Data)
	if err != nil {
		return 0, err
	}
	c.Callback.Register(frame.EndpointInvokeCallback, resp.Token, fwd)
	return resp.Token, nil
}

func (c *Client) UnsubscribeEvent(ctx context.Context, token uint64) error {
	c.Callback.Unregister(frame.EndpointInvokeCallback, token)
	_, err := c.call(ctx, frame.EndpointEventUnsubscribe, message.TokenRequest{Token: token}.Encode())
	return err
}

// HookMethod installs a prefix/postfix/finalizer callback on a type's
// method, dispatching to fwd whenever it fires.
func (c *Client) HookMethod(ctx context.Context, typeName, method string, pos message.HookPosition, fwd callback.Handler) (uint64, error) {
	req := message.HookMethodRequest{Type: typeName, Method: method, Position: pos}
	env, err := c.call(ctx, frame.EndpointHookMethod, req.Encode())
	if err != nil {
		return 0, err
	}
	resp, err := message.DecodeTokenResponse(env.Data)
	if err != nil {
		return 0, err
	}
	c.Callback.Register(frame.EndpointHookCallback, resp.Token, fwd)
	return resp.Token, nil
}

func (c *Client) UnhookMethod(ctx context.Context, token uint64) error {
	c.Callback.Unregister(frame.EndpointHookCallback, token)
	_, err := c.call(ctx, frame.EndpointUnhookMethod, message.TokenRequest{Token: token}.Encode())
	return err
}

// DefaultRequestTimeout is a convenience matching spec.md §5's ~30s default request
// timeout; callers that want a different bound build their own context.
const DefaultRequestTimeout = 30 * time.Second

// WithDefaultTimeout returns a context bounded by DefaultRequestTimeout
// unless ctx already carries an earlier deadline.
func WithDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}
