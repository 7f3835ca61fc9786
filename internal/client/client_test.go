package client

import (
	"context"
	"testing"

	"github.com/agentlink/agentlink/internal/agent/server"
	"github.com/agentlink/agentlink/internal/wire/value"
)

type widget struct {
	Name string
}

func (w *widget) Greet(prefix string) string { return prefix + w.Name }

func dialTestAgent(t *testing.T) (*server.Agent, *Client) {
	t.Helper()
	a := server.New(server.Config{ListenIP: "127.0.0.1", ListenPort: 0, MaxConnections: 4})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	c, err := Dial(context.Background(), a.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return a, c
}

func TestPingRoundTrip(t *testing.T) {
	_, c := dialTestAgent(t)
	resp, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if resp.Status == "" {
		t.Fatal("expected a non-empty ping status")
	}
}

func TestDomainsRoundTrip(t *testing.T) {
	a, c := dialTestAgent(t)
	a.Router.Runtime.Track(&widget{Name: "delta"})

	resp, err := c.Domains(context.Background())
	if err != nil {
		t.Fatalf("domains: %v", err)
	}
	if resp.DomainName == "" {
		t.Fatal("expected a non-empty domain name")
	}
	found := false
	for _, m := range resp.Modules {
		if m == "github.com/agentlink/agentlink/internal/client" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected widget's package among modules, got %v", resp.Modules)
	}
}

func TestHeapAndInvokeRoundTrip(t *testing.T) {
	a, c := dialTestAgent(t)
	obj := &widget{Name: "beta"}
	handle := a.Router.Runtime.Track(obj)

	heap, err := c.Heap(context.Background(), "", false)
	if err != nil {
		t.Fatalf("heap: %v", err)
	}
	found := false
	for _, o := range heap.Objects {
		if o.Address == handle.Address {
			found = true
		}
	}
	if !found {
		t.Fatal("expected tracked widget to appear in heap enumeration")
	}

	objResp, err := c.Object(context.Background(), handle.Address, true)
	if err != nil {
		t.Fatalf("object: %v", err)
	}

	res, err := c.Invoke(context.Background(), objResp.Token, "widget", "Greet", nil, []value.ObjectOrToken{value.Encoded("string", "hi ")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Returned.EncText != "hi beta" {
		t.Fatalf("expected 'hi beta', got %+v", res.Returned)
	}

	if err := c.Unpin(context.Background(), objResp.Token); err != nil {
		t.Fatalf("unpin: %v", err)
	}
}

func TestGetFieldAndSetFieldRoundTrip(t *testing.T) {
	a, c := dialTestAgent(t)
	obj := &widget{Name: "gamma"}
	handle := a.Router.Runtime.Track(obj)
	objResp, err := c.Object(context.Background(), handle.Address, true)
	if err != nil {
		t.Fatalf("object: %v", err)
	}

	field, err := c.GetField(context.Background(), objResp.Token, "widget", "Name")
	if err != nil {
		t.Fatalf("get field: %v", err)
	}
	if field.Returned.EncText != "gamma" {
		t.Fatalf("expected 'gamma', got %+v", field.Returned)
	}

	if err := c.SetField(context.Background(), objResp.Token, "widget", "Name", value.Encoded("string", "delta")); err != nil {
		t.Fatalf("set field: %v", err)
	}
	if obj.Name != "delta" {
		t.Fatalf("expected field write to reach the live object, got %q", obj.Name)
	}
}
