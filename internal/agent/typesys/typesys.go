// Package typesys implements the Agent-side type/member descriptor arena
// of spec.md §3 "Type descriptor" / §9 "Cyclic and overlapping type
// graphs": resolution builds a shared, lazy graph where each node is
// created once, cached, and back-references (base type, member types)
// are late-bound through a handle — here a (assembly, full name) key —
// rather than a direct pointer, so cyclic type graphs stay representable.
//
// Go has no distinct reflection API per assembly; a type's "assembly" is
// modelled as its defining package path (reflect.Type.PkgPath), the
// practical analogue of a .NET assembly name for this exercise.
package typesys

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/agentlink/agentlink/internal/wire/message"
)

// Fingerprint is a type's identity: (assembly, full name), per spec.md §3
// "Identity is (assembly, full name)".
type Fingerprint struct {
	Assembly string
	FullName string
}

func (f Fingerprint) String() string { return f.Assembly + "!" + f.FullName }

// FingerprintOf derives the Fingerprint for a concrete reflect.Type using
// its package path as the assembly and its (possibly qualified) name as
// the full name.
func FingerprintOf(t reflect.Type) Fingerprint {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return Fingerprint{Assembly: t.PkgPath(), FullName: name}
}

// Descriptor is the Agent-side, reflect-backed node of the type graph.
// It is immutable once published into an Arena, per spec.md §3
// "Invariants": "Type descriptors are immutable once published."
type Descriptor struct {
	Fingerprint
	GoType reflect.Type

	// Base is the embedded (anonymous) field's fingerprint, Go's nearest
	// analogue to single-inheritance base-type walking (spec.md §4.7
	// "walk base types until the root"); zero value means no base.
	Base Fingerprint

	Members []Member
}

// MemberKind mirrors message.MemberKind; kept as an alias so typesys and
// the wire layer speak the same vocabulary without a conversion step at
// every call site.
type MemberKind = message.MemberKind

const (
	MemberField       = message.MemberField
	MemberProperty    = message.MemberProperty
	MemberMethod      = message.MemberMethod
	MemberConstructor = message.MemberConstructor
	MemberEvent       = message.MemberEvent
)

// Member is one field/property/method/constructor/event of a Descriptor.
// For Kind==MemberMethod, Index selects reflect.Type.Method(Index); for
// Kind==MemberField, Index selects reflect.Type.Field(Index). Property
// and Event members carry Accessors cross-referencing method names,
// resolved lazily after all of the declaring type's methods are known
// (spec.md §3 "Member descriptor").
type Member struct {
	Kind      MemberKind
	Name      string
	Index     int
	IsStatic  bool
	IsGeneric bool
	Accessors []string
}

// Arena is the two-level cache of spec.md §4.6 "A two-level cache keyed
// by (assembly, full-name) is warmed as types are seen", shared by every
// component that needs to resolve or publish a Descriptor: the snapshot
// runtime (resolving by name), the dispatcher (walking base types), and
// the router (serving the `type` verb).
type Arena struct {
	mu  sync.RWMutex
	byFP map[Fingerprint]*Descriptor
}

func NewArena() *Arena {
	return &Arena{byFP: make(map[Fingerprint]*Descriptor)}
}

// Resolve returns the published Descriptor for (assembly, fullName).
// When assembly is empty, any published descriptor with that full name
// is returned: the arena keeps no registration order, so when several
// packages publish the same full name, which one is returned is not
// defined. A `*` in fullName matches
// any trailing sequence of characters, used by the heap filter and by
// wildcard type lookups.
func (a *Arena) Resolve(assembly, fullName string) (*Descriptor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if assembly != "" {
		d, ok := a.byFP[Fingerprint{Assembly: assembly, FullName: fullName}]
		return d, ok
	}
	if !hasWildcard(fullName) {
		for fp, d := range a.byFP {
			if fp.FullName == fullName {
				return d, true
			}
		}
		return nil, false
	}
	// Wildcard scan, first match in map iteration order is acceptable here:
	// the wildcard path is a convenience filter, not an identity lookup.
	for fp, d := range a.byFP {
		if MatchWildcard(fullName, fp.FullName) {
			return d, true
		}
	}
	return nil, false
}

// Register ensures t (and, transitively, its embedded base and member
// types) is published in the arena, returning the (possibly
// freshly-built) Descriptor. Re-registering the same type is a no-op
// that returns the previously published node, satisfying "re-resolution
// of the same (assembly, full-name) returns the identical descriptor".
func (a *Arena) Register(t reflect.Type) *Descriptor {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	fp := FingerprintOf(t)

	a.mu.RLock()
	if d, ok := a.byFP[fp]; ok {
		a.mu.RUnlock()
		return d
	}
	a.mu.RUnlock()

	d := build(t, fp)

	a.mu.Lock()
	if existing, ok := a.byFP[fp]; ok {
		a.mu.Unlock()
		return existing
	}
	a.byFP[fp] = d
	a.mu.Unlock()

	// Register the base type too, so a base-type lookup during dispatch's
	// recursive walk always finds a published node.
	if base, ok := baseFieldType(t); ok {
		a.Register(base)
	}
	return d
}

func build(t reflect.Type, fp Fingerprint) *Descriptor {
	d := &Descriptor{Fingerprint: fp, GoType: t}
	if base, ok := baseFieldType(t); ok {
		d.Base = FingerprintOf(base)
	}

	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Anonymous {
				continue
			}
			d.Members = append(d.Members, Member{Kind: MemberField, Name: f.Name, Index: i})
		}
	}

	ptrType := reflect.PtrTo(t)
	seen := make(map[string]bool)
	for _, candidate := range []reflect.Type{t, ptrType} {
		for i := 0; i < candidate.NumMethod(); i++ {
			m := candidate.Method(i)
			if !m.IsExported() || seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			d.Members = append(d.Members, Member{
				Kind:      MemberMethod,
				Name:      m.Name,
				Index:     i,
				IsStatic:  false,
				IsGeneric: isGenericMethodName(m.Name),
			})
		}
	}

	sort.Slice(d.Members, func(i, j int) bool { return d.Members[i].Name < d.Members[j].Name })
	return d
}

// isGenericMethodName is a naming convention stand-in for "this method
// accepts a generic coordinate": Go methods can't themselves be generic,
// so a method opts into spec.md §4.7 generic-specialisation handling by
// ending in "Of" (e.g. "ElementOf[T]" written as "ElementOf") and
// implementing dispatch.GenericInvoker on its receiver type (see
// internal/agent/dispatch, DESIGN.md OQ-2).
func isGenericMethodName(name string) bool {
	return len(name) > 2 && name[len(name)-2:] == "Of"
}

func baseFieldType(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Struct {
		return nil, false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			return f.Type, true
		}
	}
	return nil, false
}

// hasWildcard reports whether s contains the `*` sentinel of spec.md
// §4.6 "a `*` wildcard matches any sequence of characters".
func hasWildcard(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '*' {
			return true
		}
	}
	return false
}

// MatchWildcard matches pattern against name where pattern may contain
// any number of `*` wildcards; exact equality is used when pattern
// carries none.
func MatchWildcard(pattern, name string) bool {
	if !hasWildcard(pattern) {
		return pattern == name
	}
	return matchWildcardRec(pattern, name)
}

func matchWildcardRec(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}
	if pattern[0] == '*' {
		if matchWildcardRec(pattern[1:], name) {
			return true
		}
		for i := 0; i < len(name); i++ {
			if matchWildcardRec(pattern[1:], name[i+1:]) {
				return true
			}
		}
		return pattern[1:] == "" // trailing '*' matches rest including empty
	}
	if name == "" || pattern[0] != name[0] {
		return false
	}
	return matchWildcardRec(pattern[1:], name[1:])
}

// ToWire converts a Descriptor, resolving its base and member return
// types through arena so property/event accessor cross-references are
// already populated on the wire form (spec.md §3 "resolved after all
// methods of the declaring type are known").
func (a *Arena) ToWire(d *Descriptor) message.TypeDescriptor {
	out := message.TypeDescriptor{
		FullName:     d.FullName,
		Assembly:     d.Assembly,
		BaseFullName: d.Base.FullName,
		BaseAssembly: d.Base.Assembly,
	}
	for _, m := range d.Members {
		out.Members = append(out.Members, a.memberToWire(d, m))
	}
	return out
}

func (a *Arena) memberToWire(d *Descriptor, m Member) message.MemberDescriptor {
	wm := message.MemberDescriptor{
		Kind:      m.Kind,
		Name:      m.Name,
		IsStatic:  m.IsStatic,
		IsGeneric: m.IsGeneric,
		Accessors: m.Accessors,
	}
	switch m.Kind {
	case MemberField:
		f := d.GoType.Field(m.Index)
		wm.ReturnType = paramOf("", f.Type)
	case MemberMethod:
		recv := d.GoType
		meth, ok := recv.MethodByName(m.Name)
		if !ok {
			recv = reflect.PtrTo(d.GoType)
			meth, ok = recv.MethodByName(m.Name)
		}
		if !ok {
			return wm
		}
		ft := meth.Type
		start := 1 // skip receiver
		for i := start; i < ft.NumIn(); i++ {
			wm.Params = append(wm.Params, paramOf(fmt.Sprintf("arg%d", i-start), ft.In(i)))
		}
		if ft.NumOut() > 0 {
			wm.ReturnType = paramOf("", ft.Out(0))
		}
	}
	return wm
}

func paramOf(name string, t reflect.Type) message.ParamDescriptor {
	fp := FingerprintOf(t)
	return message.ParamDescriptor{Name: name, TypeName: fp.FullName, Assembly: fp.Assembly}
}

// All returns every Descriptor currently published, for the `types`
// verb (enumerate all types known to an assembly).
func (a *Arena) All() []*Descriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Descriptor, 0, len(a.byFP))
	for _, d := range a.byFP {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}
