// Package pin implements spec.md §4.5 "Pinning table": the Agent-side
// map from a 64-bit token to a strong reference on a tracked object,
// plus the reverse index needed to satisfy "the pinning table never
// yields the same token to two distinct live objects" and "pin of the
// same identity returns the same token".
package pin

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentlink/agentlink/internal/agent/snapshot"
	"github.com/agentlink/agentlink/internal/agent/typesys"
	"github.com/agentlink/agentlink/internal/agenterr"
)

// Token is the wire identity of a pinned object; zero denotes "null"
// (spec.md §3 "Token").
type Token uint64

// Entry is the Pinning table's record, per spec.md §3 "Pin entry":
// (token, strong reference, type fingerprint, creation timestamp).
type Entry struct {
	Token       Token
	Strong      any
	Fingerprint typesys.Fingerprint
	CreatedAt   time.Time
}

// Table is the Agent's pinning table, backed by a single coarse lock per
// spec.md §5 "Shared resources": "The pinning table is shared mutable,
// protected by a single coarse lock around mutation."
type Table struct {
	mu       sync.Mutex
	byToken  map[Token]*Entry
	byPtr    map[uintptr]Token // reverse index: object identity -> token
	nextTok  atomic.Uint64
	runtime  *snapshot.Runtime
}

// NewTable creates a pinning table bound to the Agent's snapshot
// runtime, used for TryRecover.
func NewTable(rt *snapshot.Runtime) *Table {
	return &Table{
		byToken: make(map[Token]*Entry),
		byPtr:   make(map[uintptr]Token),
		runtime: rt,
	}
}

// Pin creates (or returns the existing) token for obj. Repeated pins of
// the same identity return the same token, satisfying spec.md §4.5 "The
// table tolerates repeated pin of the same identity by returning the
// same token."
func (t *Table) Pin(obj any) Token {
	ptr := reflect.ValueOf(obj).Pointer()

	t.mu.Lock()
	defer t.mu.Unlock()

	if tok, ok := t.byPtr[ptr]; ok {
		return tok
	}

	tok := Token(t.nextTok.Add(1))
	fp := typesys.FingerprintOf(reflect.TypeOf(obj))
	t.byToken[tok] = &Entry{Token: tok, Strong: obj, Fingerprint: fp, CreatedAt: time.Now()}
	t.byPtr[ptr] = tok
	return tok
}

// TryGet returns the strong reference for token, if still pinned.
func (t *Table) TryGet(token Token) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byToken[token]
	if !ok {
		return nil, false
	}
	return e.Strong, true
}

// Entry returns the full pin entry for token.
func (t *Table) Entry(token Token) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byToken[token]
	return e, ok
}

// Unpin releases token. It is idempotent per spec.md §8 "For all tokens
// t returned by the Agent, unpin(t) is idempotent: repeated calls
// succeed without error."
func (t *Table) Unpin(token Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byToken[token]
	if !ok {
		return
	}
	delete(t.byToken, token)
	ptr := reflect.ValueOf(e.Strong).Pointer()
	if cur, ok := t.byPtr[ptr]; ok && cur == token {
		delete(t.byPtr, ptr)
	}
}

// RefreshSnapshot refreshes the bound snapshot runtime, returning the
// new Snapshot. TryRecover performs its own single refresh before its
// retry, so callers need not call this first.
func (t *Table) RefreshSnapshot() *snapshot.Snapshot {
	return t.runtime.Refresh()
}

// TryRecover resolves an address + method-table coordinate to a live
// object, used when a Client-supplied address doesn't match any current
// pin (spec.md §4.5). On success it pins the recovered object and
// returns its token. If the object has relocated, it refreshes the
// snapshot once and retries; persistent failure returns ErrMoved.
func (t *Table) TryRecover(address, methodTable uint64) (Token, error) {
	h, ok := t.runtime.HandleOf(address)
	if ok && h.MethodTable == methodTable {
		obj, _, live := t.runtime.Lookup(address)
		if live {
			return t.Pin(obj), nil
		}
	}

	// One refresh-and-retry cycle, per spec.md §4.5/§8 "Moved object"
	// scenario: "Agent refreshes the snapshot once, retries, succeeds ...
	// or fails with moved".
	t.runtime.Refresh()
	h, ok = t.runtime.HandleOf(address)
	if ok && h.MethodTable == methodTable {
		obj, _, live := t.runtime.Lookup(address)
		if live {
			return t.Pin(obj), nil
		}
	}

	return 0, agenterr.ErrMoved
}

// Len reports the number of currently live pins, used by tests and
// diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byToken)
}
