package dispatch

import (
	"reflect"
	"testing"

	"github.com/agentlink/agentlink/internal/agent/pin"
	"github.com/agentlink/agentlink/internal/agent/snapshot"
	"github.com/agentlink/agentlink/internal/agent/typesys"
	"github.com/agentlink/agentlink/internal/agenterr"
	"github.com/agentlink/agentlink/internal/wire/value"
)

type counter struct{ N int32 }

func (c *counter) Add(delta int32) int32 {
	c.N += delta
	return c.N
}

func (c *counter) AddOverload(delta int32) int32  { return c.N + delta }
func (c *counter) AddOverloadF(delta float64) float64 { return float64(c.N) + delta }

func setup(t *testing.T) (*Dispatcher, *pin.Table, *counter) {
	t.Helper()
	arena := typesys.NewArena()
	rt := snapshot.NewRuntime(arena)
	tbl := pin.NewTable(rt)
	d := New(arena, tbl, nil)

	c := &counter{N: 10}
	rt.Track(c)
	tok := tbl.Pin(c)
	_ = tok
	return d, tbl, c
}

func TestInvokeInstanceReturnsEncodedPrimitive(t *testing.T) {
	d, tbl, c := setup(t)
	tok := tbl.Pin(c)

	res, err := d.InvokeInstance(tok, 0, 0, "counter", "Add", nil, []value.ObjectOrToken{
		value.Encoded("int32", "5"),
	})
	if err != nil {
		t.Fatal(err)
	}
	oot := d.LiftReturn(res)
	if oot.Kind != value.OOTEncoded || oot.EncText != "15" {
		t.Fatalf("expected encoded 15, got %+v", oot)
	}
}

func TestMethodNotFoundSurfacesResolutionError(t *testing.T) {
	d, tbl, c := setup(t)
	tok := tbl.Pin(c)
	_, err := d.InvokeInstance(tok, 0, 0, "counter", "DoesNotExist", nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if ae, ok := err.(*agenterr.Error); !ok || ae.Class != agenterr.ClassResolution {
		t.Fatalf("expected a resolution error, got %v", err)
	}
}

func TestUnmatchedArgumentTypeRaisesResolutionError(t *testing.T) {
	d, tbl, c := setup(t)
	tok := tbl.Pin(c)

	// A null argument matches neither AddOverload(int32) strictly nor via
	// wildcard, since int32 is not a nilable parameter kind.
	_, err := d.InvokeInstance(tok, 0, 0, "counter", "AddOverload", nil, []value.ObjectOrToken{
		value.Null_(),
	})
	if err == nil {
		t.Fatal("expected resolution error for unmatched argument type")
	}

	_ = reflect.TypeOf(c)
}
