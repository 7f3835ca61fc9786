// Package snapshot implements spec.md §4.6 "Snapshot runtime": a
// consistent, point-in-time view over the objects the hosted application
// has explicitly made visible to the Agent.
//
// Go programs have no managed heap an out-of-process Agent can walk the
// way a CLR profiler walks GC roots. The practical analogue adopted here
// (spec.md's own §0 framing, elaborated in SPEC_FULL.md and DESIGN.md
// OQ-1) is a tracked-object registry: the hosted application calls
// Runtime.Track(obj) for anything that should be enumerable/locatable
// through the protocol. A Snapshot is then a generation-tagged, copied
// slice of the registry at the moment it was taken — copy-on-write in
// the sense that mutating the live registry afterward never mutates an
// already-taken Snapshot, exactly per spec.md §3 "Snapshot" and
// "Invariants".
package snapshot

import (
	"reflect"
	"sync"
	"time"

	"github.com/agentlink/agentlink/internal/agent/typesys"
)

// Handle is a registry-assigned identity for one tracked object.
// Address stands in for the CLR heap address spec.md's wire messages
// reference (`heap`/`object`/`invoke` all carry an "address" field);
// MethodTable stands in for the method-table pointer used by
// spec.md §4.5's recovery path. Generation starts at 1 and increases by
// one each time Relocate moves the object to a new address, which is how
// this Go realization manufactures the "object moved" condition spec.md
// §4.5/§8 require be observable and retryable (see Relocate below).
type Handle struct {
	Address     uint64
	MethodTable uint64
	Generation  uint32
}

type entry struct {
	handle Handle
	obj    any
	typeFP typesys.Fingerprint
	hash   int32
	alive  bool
}

// Snapshot is an immutable, point-in-time view of the registry.
type Snapshot struct {
	Generation uint64
	TakenAt    time.Time
	entries    []entry
}

// Runtime is the Agent-side snapshot runtime: it owns the tracked-object
// registry, the type arena, and the "consistent snapshot" protocol of
// spec.md §4.6/§5 ("take a snapshot, read, release; if the snapshot
// observes mid-walk movement it is invalidated and retried").
type Runtime struct {
	mu        sync.RWMutex
	arena     *typesys.Arena
	nextAddr  uint64
	byAddr    map[uint64]*entry
	gen       uint64
	ring      []*Snapshot // small fixed-size ring of recent snapshots (spec.md §3)
	ringCap   int
}

const defaultRingCap = 4

// NewRuntime creates a Runtime sharing the given type arena (the router
// wires the same arena into the dispatcher so resolved types are
// identical objects, per spec.md §3 "Type descriptors are immutable once
// published").
func NewRuntime(arena *typesys.Arena) *Runtime {
	return &Runtime{
		arena:   arena,
		byAddr:  make(map[uint64]*entry),
		ringCap: defaultRingCap,
	}
}

// Track registers obj (must be a pointer) so it becomes visible to
// heap enumeration, pinning, and reflective dispatch. It returns the
// Handle assigned to it. Re-tracking the exact same pointer returns the
// same Handle.
func (rt *Runtime) Track(obj any) Handle {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	v := reflect.ValueOf(obj)
	ptr := v.Pointer()

	for _, e := range rt.byAddr {
		if e.alive && reflect.ValueOf(e.obj).Pointer() == ptr {
			return e.handle
		}
	}

	rt.arena.Register(v.Type())
	fp := typesys.FingerprintOf(v.Type())

	rt.nextAddr++
	addr := rt.nextAddr
	h := Handle{Address: addr, MethodTable: methodTableOf(fp), Generation: 1}
	rt.byAddr[addr] = &entry{handle: h, obj: obj, typeFP: fp, alive: true}
	return h
}

// Retire marks the object at addr as no longer directly reachable at
// that address. Combined with Track of a fresh object under a new
// address, this is how a retry-driven caller observes the "object
// moved" condition of spec.md §4.5: the address the caller holds no
// longer resolves to a live object, and TryRecover reports "moved".
func (rt *Runtime) Retire(addr uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if e, ok := rt.byAddr[addr]; ok {
		e.alive = false
	}
}

// Relocate simulates the object previously tracked at oldAddr moving to
// a new address with a bumped generation, the Go stand-in for the CLR
// compacting GC relocating a live object between a snapshot and a
// subsequent retrieval (spec.md §4.5, §8 "Moved object").
func (rt *Runtime) Relocate(oldAddr uint64) (newAddr uint64, ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	old, exists := rt.byAddr[oldAddr]
	if !exists || !old.alive {
		return 0, false
	}
	old.alive = false

	rt.nextAddr++
	newAddr = rt.nextAddr
	h := Handle{Address: newAddr, MethodTable: old.handle.MethodTable, Generation: old.handle.Generation + 1}
	rt.byAddr[newAddr] = &entry{handle: h, obj: old.obj, typeFP: old.typeFP, alive: true}
	return newAddr, true
}

// Lookup returns the live object tracked at addr, if any.
func (rt *Runtime) Lookup(addr uint64) (any, typesys.Fingerprint, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	e, ok := rt.byAddr[addr]
	if !ok || !e.alive {
		return nil, typesys.Fingerprint{}, false
	}
	return e.obj, e.typeFP, true
}

// HandleOf returns the current Handle tracked at addr.
func (rt *Runtime) HandleOf(addr uint64) (Handle, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	e, ok := rt.byAddr[addr]
	if !ok {
		return Handle{}, false
	}
	return e.handle, true
}

// Refresh takes a new consistent Snapshot of every currently-alive
// tracked object, per spec.md §4.5 "refresh_snapshot()" / §4.6 "take a
// snapshot, read, release". The ring always retains up to ringCap
// recent snapshots.
func (rt *Runtime) Refresh() *Snapshot {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.gen++
	snap := &Snapshot{Generation: rt.gen, TakenAt: time.Now()}
	for _, e := range rt.byAddr {
		if e.alive {
			snap.entries = append(snap.entries, *e)
		}
	}

	rt.ring = append(rt.ring, snap)
	if len(rt.ring) > rt.ringCap {
		rt.ring = rt.ring[len(rt.ring)-rt.ringCap:]
	}
	return snap
}

// EnumerateOptions controls heap enumeration (spec.md §4.3 "heap").
type EnumerateOptions struct {
	TypeFilter    string // "" means no filter; may contain `*`
	DumpHashcodes bool
}

// ObjectInfo is one enumerated heap entry.
type ObjectInfo struct {
	Address  uint64
	TypeName string
	Hashcode int32
	HasHash  bool
}

// ErrInconsistent signals that an object relocated mid-walk (spec.md
// §4.6 "If any individual object relocates mid-walk, the entire walk is
// reported as inconsistent and may be retried by the caller").
type inconsistentError struct{}

func (inconsistentError) Error() string { return "snapshot: heap walk observed relocation, retry" }

var ErrInconsistent error = inconsistentError{}

// Enumerate walks snap applying opts.TypeFilter (exact or wildcard,
// per spec.md §4.6), computing hash codes "after locking each candidate"
// when requested. If the Runtime has since relocated any object the
// walk visited, Enumerate returns ErrInconsistent and the caller should
// Refresh and retry (spec.md §5 "Transactions").
func (rt *Runtime) Enumerate(snap *Snapshot, opts EnumerateOptions) ([]ObjectInfo, error) {
	out := make([]ObjectInfo, 0, len(snap.entries))
	for _, e := range snap.entries {
		if opts.TypeFilter != "" && !typesys.MatchWildcard(opts.TypeFilter, e.typeFP.FullName) {
			continue
		}

		rt.mu.RLock()
		cur, stillAlive := rt.byAddr[e.handle.Address]
		consistent := stillAlive && cur.alive && cur.handle.Generation == e.handle.Generation
		rt.mu.RUnlock()
		if !consistent {
			return nil, ErrInconsistent
		}

		info := ObjectInfo{Address: e.handle.Address, TypeName: e.typeFP.FullName}
		if opts.DumpHashcodes {
			info.HasHash = true
			info.Hashcode = hashOf(e.obj)
		}
		out = append(out, info)
	}
	return out, nil
}

// Arena exposes the shared type arena for resolution.
func (rt *Runtime) Arena() *typesys.Arena { return rt.arena }

func hashOf(obj any) int32 {
	v := reflect.ValueOf(obj)
	return int32(v.Pointer())
}

// methodTableOf derives a stable, deterministic "method-table" stand-in
// from a type fingerprint: a 64-bit FNV-1a hash of its string form. Real
// method-table pointers are per-process and meaningless across an
// Agent restart anyway; a content hash gives TryRecover something
// comparable without a second identity scheme.
func methodTableOf(fp typesys.Fingerprint) uint64 {
	const (
		offset uint64 = 14695981039346656037
		prime  uint64 = 1099511628211
	)
	h := offset
	s := fp.String()
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}
