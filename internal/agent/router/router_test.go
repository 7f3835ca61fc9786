package router

import (
	"context"
	"testing"

	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/value"
)

type widget struct {
	Name  string
	Count int32
}

func (w *widget) Bump(delta int32) int32 {
	w.Count += delta
	return w.Count
}

func decodeEnvelope(t *testing.T, body []byte) message.Envelope {
	t.Helper()
	env, err := message.DecodeEnvelope(body)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestHandlePing(t *testing.T) {
	r := New()
	body, err := r.Handle(context.Background(), "/ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	env := decodeEnvelope(t, body)
	if env.IsError {
		t.Fatalf("unexpected error: %s", env.ErrorMessage)
	}
	resp, err := message.DecodePingResponse(env.Data)
	if err != nil || resp.Status != "ok" {
		t.Fatalf("unexpected ping response: %+v, %v", resp, err)
	}
}

func TestHandleUnknownEndpointIsProtocolError(t *testing.T) {
	r := New()
	body, _ := r.Handle(context.Background(), "/does_not_exist", nil)
	env := decodeEnvelope(t, body)
	if !env.IsError {
		t.Fatal("expected an error envelope for an unknown endpoint")
	}
}

func TestHandleDomainsListsTrackedAssemblies(t *testing.T) {
	r := New()
	r.Runtime.Track(&widget{Name: "w1"})

	body, err := r.Handle(context.Background(), "/domains", nil)
	if err != nil {
		t.Fatal(err)
	}
	env := decodeEnvelope(t, body)
	if env.IsError {
		t.Fatalf("unexpected error: %s", env.ErrorMessage)
	}
	resp, err := message.DecodeDomainsResponse(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	if resp.DomainName == "" {
		t.Fatal("expected a non-empty domain name")
	}
	found := false
	for _, m := range resp.Modules {
		if m == "github.com/agentlink/agentlink/internal/agent/router" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected widget's package among modules, got %v", resp.Modules)
	}
}

func TestRegisterAndUnregisterClientTracksCount(t *testing.T) {
	r := New()
	reqBody := message.ClientIDRequest{ProcessID: 42}.Encode()

	body, _ := r.Handle(context.Background(), "/register_client", reqBody)
	env := decodeEnvelope(t, body)
	resp, _ := message.DecodeClientCountResponse(env.Data)
	if resp.Remaining != 1 {
		t.Fatalf("expected 1 registered client, got %d", resp.Remaining)
	}

	body, _ = r.Handle(context.Background(), "/unregister_client", reqBody)
	env = decodeEnvelope(t, body)
	resp, _ = message.DecodeClientCountResponse(env.Data)
	if !resp.Removed || resp.Remaining != 0 {
		t.Fatalf("expected removal and 0 remaining, got %+v", resp)
	}
}

func TestHeapObjectInvokeUnpinLifecycle(t *testing.T) {
	r := New()
	obj := &widget{Name: "w1", Count: 10}
	handle := r.Runtime.Track(obj)

	heapBody, _ := r.Handle(context.Background(), "/heap", message.HeapRequest{}.Encode())
	env := decodeEnvelope(t, heapBody)
	heapResp, err := message.DecodeHeapResponse(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, o := range heapResp.Objects {
		if o.Address == handle.Address {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tracked object in heap dump, got %+v", heapResp.Objects)
	}

	objBody, _ := r.Handle(context.Background(), "/object", message.ObjectRequest{Address: handle.Address, Pin: true}.Encode())
	env = decodeEnvelope(t, objBody)
	objResp, err := message.DecodeObjectResponse(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	if objResp.Token == 0 {
		t.Fatal("expected a non-zero pin token")
	}

	invReq := message.InvokeRequest{
		ObjAddress:   handle.Address,
		TypeFullName: "widget",
		Method:       "Bump",
		Parameters:   []value.ObjectOrToken{value.Encoded("int32", "5")},
	}
	invBody, _ := r.Handle(context.Background(), "/invoke", invReq.Encode())
	env = decodeEnvelope(t, invBody)
	if env.IsError {
		t.Fatalf("invoke failed: %s", env.ErrorMessage)
	}
	invRes, err := message.DecodeInvocationResult(env.Data)
	if err != nil {
		t.Fatal(err)
	}
	if invRes.Returned.EncText != "15" {
		t.Fatalf("expected Bump to return 15, got %+v", invRes.Returned)
	}

	unpinBody, _ := r.Handle(context.Background(), "/unpin", message.UnpinRequest{Address: objResp.Token}.Encode())
	env = decodeEnvelope(t, unpinBody)
	if env.IsError {
		t.Fatalf("unpin failed: %s", env.ErrorMessage)
	}

	// Unpinning twice is idempotent.
	unpinBody, _ = r.Handle(context.Background(), "/unpin", message.UnpinRequest{Address: objResp.Token}.Encode())
	env = decodeEnvelope(t, unpinBody)
	if env.IsError {
		t.Fatalf("second unpin should also succeed, got %s", env.ErrorMessage)
	}
}

func TestHookMethodAndUnhookRoundTrip(t *testing.T) {
	r := New()
	hookReq := message.HookMethodRequest{Type: "widget", Method: "Bump", Position: message.HookPrefix}
	body, _ := r.Handle(context.Background(), "/hook_method", hookReq.Encode())
	env := decodeEnvelope(t, body)
	if env.IsError {
		t.Fatalf("hook_method failed: %s", env.ErrorMessage)
	}
	tokResp, err := message.DecodeTokenResponse(env.Data)
	if err != nil || tokResp.Token == 0 {
		t.Fatalf("expected a hook token, got %+v, %v", tokResp, err)
	}

	unhookBody, _ := r.Handle(context.Background(), "/unhook_method", message.TokenRequest{Token: tokResp.Token}.Encode())
	env = decodeEnvelope(t, unhookBody)
	if env.IsError {
		t.Fatalf("unhook_method failed: %s", env.ErrorMessage)
	}
}

func TestEventSubscribeOnMissingObjectReportsMoved(t *testing.T) {
	r := New()
	req := message.EventSubscribeRequest{Address: 999, Event: "Tick", CallbackEndpoint: "/invoke_callback"}
	body, _ := r.Handle(context.Background(), "/event_subscribe", req.Encode())
	env := decodeEnvelope(t, body)
	if !env.IsError {
		t.Fatal("expected an error for a nonexistent object address")
	}
}
