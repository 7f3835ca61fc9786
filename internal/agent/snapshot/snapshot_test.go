package snapshot

import (
	"testing"

	"github.com/agentlink/agentlink/internal/agent/typesys"
)

type sample struct{ N int }

func TestTrackIsIdempotentForSamePointer(t *testing.T) {
	rt := NewRuntime(typesys.NewArena())
	obj := &sample{N: 1}
	h1 := rt.Track(obj)
	h2 := rt.Track(obj)
	if h1.Address != h2.Address {
		t.Fatalf("expected same address for repeated Track of identical pointer")
	}
}

func TestEnumerateFiltersByWildcard(t *testing.T) {
	rt := NewRuntime(typesys.NewArena())
	rt.Track(&sample{N: 1})
	rt.Track(&sample{N: 2})
	snap := rt.Refresh()

	objs, err := rt.Enumerate(snap, EnumerateOptions{TypeFilter: "samp*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objs))
	}
}

func TestRelocateMakesOldSnapshotInconsistent(t *testing.T) {
	rt := NewRuntime(typesys.NewArena())
	obj := &sample{N: 1}
	h := rt.Track(obj)
	snap := rt.Refresh()

	newAddr, ok := rt.Relocate(h.Address)
	if !ok {
		t.Fatal("expected relocation to succeed")
	}
	if newAddr == h.Address {
		t.Fatal("expected a new address after relocation")
	}

	if _, err := rt.Enumerate(snap, EnumerateOptions{}); err != ErrInconsistent {
		t.Fatalf("expected ErrInconsistent walking a stale snapshot, got %v", err)
	}

	fresh := rt.Refresh()
	objs, err := rt.Enumerate(fresh, EnumerateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 1 || objs[0].Address != newAddr {
		t.Fatalf("expected exactly the relocated object at its new address, got %+v", objs)
	}
}

func TestLookupReportsDeadAfterRetire(t *testing.T) {
	rt := NewRuntime(typesys.NewArena())
	obj := &sample{N: 1}
	h := rt.Track(obj)
	rt.Retire(h.Address)

	if _, _, ok := rt.Lookup(h.Address); ok {
		t.Fatal("expected retired address to be unresolvable")
	}
}
