// Package dispatch implements spec.md §4.7 "Reflective dispatcher":
// resolution of a member by name (with recursive base-type walking,
// arity-first filtering, strict-then-wildcard argument matching, and
// generic-method specialisation), invocation, and argument/return
// marshalling, built on Go's reflect package exactly as the original
// leans on System.Reflection.
package dispatch

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/agentlink/agentlink/internal/agent/pin"
	"github.com/agentlink/agentlink/internal/agent/typesys"
	"github.com/agentlink/agentlink/internal/agenterr"
	"github.com/agentlink/agentlink/internal/wire/value"
)

// WildcardType is the sentinel spec.md §4.7 describes: "The wildcard
// arises when a Client supplies null: the argument type is unknown, and
// the dispatcher must not over-constrain resolution." A parameter typed
// reflect.Interface (e.g. Go's `any`) plays this role naturally — it is
// the only Go parameter shape a null argument can always bind to — and
// WildcardType additionally matches any nilable parameter kind (pointer,
// slice, map, chan, func, interface).
var WildcardType = reflect.TypeOf((*any)(nil)).Elem()

// GenericInvoker is implemented by receiver types that want to support
// spec.md §4.7 "Generic methods may be specialised by a [type, ...]
// coordinate": since Go methods cannot themselves be generic, a type
// opts in by implementing this interface for its "Of"-suffixed members
// (see typesys.isGenericMethodName and DESIGN.md OQ-2).
type GenericInvoker interface {
	InvokeGeneric(method string, typeArgs []reflect.Type, args []reflect.Value) (reflect.Value, error)
}

// EnumRegistry maps an enum type's full name to its symbolic members,
// used to translate spec.md §4.4's "reference to the enum's remote
// value" back into a concrete Go integer before a call (spec.md §4.7
// "Enum arguments are substituted with a reference to the enum's remote
// value before dispatch").
type EnumRegistry struct {
	byType map[string]map[string]int64
}

func NewEnumRegistry() *EnumRegistry { return &EnumRegistry{byType: make(map[string]map[string]int64)} }

func (r *EnumRegistry) Register(typeName string, members map[string]int64) {
	r.byType[typeName] = members
}

func (r *EnumRegistry) Lookup(typeName, name string) (int64, bool) {
	m, ok := r.byType[typeName]
	if !ok {
		return 0, false
	}
	v, ok := m[name]
	return v, ok
}

// Dispatcher resolves and invokes members against tracked objects.
type Dispatcher struct {
	arena *typesys.Arena
	pins  *pin.Table
	enums *EnumRegistry
}

func New(arena *typesys.Arena, pins *pin.Table, enums *EnumRegistry) *Dispatcher {
	if enums == nil {
		enums = NewEnumRegistry()
	}
	return &Dispatcher{arena: arena, pins: pins, enums: enums}
}

// candidate is one method overload under consideration.
type candidate struct {
	desc   *typesys.Descriptor
	member typesys.Member
	method reflect.Method
}

// resolveCandidates walks fp and its base chain collecting every method
// member named name, per spec.md §4.7 "if a requested member is not
// found on the declared type, walk base types until the root."
func (d *Dispatcher) resolveCandidates(fp typesys.Fingerprint, name string) []candidate {
	var out []candidate
	seen := map[typesys.Fingerprint]bool{}
	for {
		if fp.FullName == "" || seen[fp] {
			break
		}
		seen[fp] = true
		desc, ok := d.arena.Resolve(fp.Assembly, fp.FullName)
		if !ok {
			break
		}
		for _, m := range desc.Members {
			if m.Kind != typesys.MemberMethod || m.Name != name {
				continue
			}
			meth, ok := desc.GoType.MethodByName(name)
			if !ok {
				meth, ok = reflect.PtrTo(desc.GoType).MethodByName(name)
			}
			if ok {
				out = append(out, candidate{desc: desc, member: m, method: meth})
			}
		}
		if desc.Base.FullName == "" {
			break
		}
		fp = desc.Base
	}
	return out
}

// Result is the Agent-internal shape of spec.md §3's "Invocation
// result": either void or one reflect.Value lifted by the caller into a
// wire ObjectOrToken.
type Result struct {
	IsVoid bool
	Value  reflect.Value
}

// InvokeInstance looks up the pin for token (recovering via address +
// method-table if necessary), resolves method by arity-first then
// strict-then-wildcard type matching among its overloads, and invokes
// it, per spec.md §4.7 "Invocation policy".
func (d *Dispatcher) InvokeInstance(token pin.Token, address, methodTable uint64, typeName, method string, genericArgs []string, args []value.ObjectOrToken) (Result, error) {
	obj, ok := d.pins.TryGet(token)
	if !ok {
		recovered, err := d.pins.TryRecover(address, methodTable)
		if err != nil {
			return Result{}, err
		}
		obj, _ = d.pins.TryGet(recovered)
	}
	fp := typesys.FingerprintOf(reflect.TypeOf(obj))
	return d.invoke(fp, reflect.ValueOf(obj), method, genericArgs, args)
}

// InvokeStatic resolves typeName without a target instance, per
// spec.md §4.7 "Static call: target instance is absent; the declaring
// type must be resolvable."
func (d *Dispatcher) InvokeStatic(typeName, assembly, method string, genericArgs []string, args []value.ObjectOrToken) (Result, error) {
	desc, ok := d.arena.Resolve(assembly, typeName)
	if !ok {
		return Result{}, agenterr.Resolution("type not found: %s", typeName)
	}
	return d.invoke(desc.Fingerprint, reflect.Value{}, method, genericArgs, args)
}

func (d *Dispatcher) invoke(fp typesys.Fingerprint, recv reflect.Value, method string, genericArgs []string, args []value.ObjectOrToken) (Result, error) {
	candidates := d.resolveCandidates(fp, method)
	if len(candidates) == 0 {
		return Result{}, agenterr.Resolution("method not found: %s.%s", fp.FullName, method)
	}

	// Arity-first filtering (spec.md §4.7).
	arityMatched := candidates[:0:0]
	for _, c := range candidates {
		if c.method.Type.NumIn()-1 == len(args) {
			arityMatched = append(arityMatched, c)
		}
	}
	if len(arityMatched) == 0 {
		sig := make([]string, len(candidates))
		for i, c := range candidates {
			sig[i] = fmt.Sprintf("%s/%d", c.member.Name, c.method.Type.NumIn()-1)
		}
		sort.Strings(sig)
		return Result{}, agenterr.Resolution("method not found: %s.%s (candidates: %v)", fp.FullName, method, sig)
	}

	strict, wildcard := d.matchOverloads(arityMatched, args)
	chosen, err := pickOverload(strict, wildcard)
	if err != nil {
		return Result{}, err
	}

	if chosen.member.IsGeneric {
		return d.invokeGeneric(recv, chosen, genericArgs, args)
	}
	return d.invokeConcrete(recv, chosen, args)
}

// matchOverloads partitions arity-matched candidates into those whose
// parameter types are strictly assignable from the argument shapes and
// those that only match via the wildcard/null fallback, per spec.md
// §4.7 "Match uses two comparators in order: strict ... then
// wildcard-aware."
func (d *Dispatcher) matchOverloads(cands []candidate, args []value.ObjectOrToken) (strict, wildcard []candidate) {
	for _, c := range cands {
		ft := c.method.Type
		allStrict, allWildcard := true, true
		for i, oot := range args {
			pt := ft.In(i + 1)
			s, w := d.argMatches(oot, pt)
			allStrict = allStrict && s
			allWildcard = allWildcard && (s || w)
		}
		if allStrict {
			strict = append(strict, c)
		} else if allWildcard {
			wildcard = append(wildcard, c)
		}
	}
	return strict, wildcard
}

func (d *Dispatcher) argMatches(oot value.ObjectOrToken, paramType reflect.Type) (strict, wildcard bool) {
	switch oot.Kind {
	case value.OOTNull:
		switch paramType.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
			return false, true
		}
		return false, false
	case value.OOTEncoded:
		v, err := value.ParseEncoded(oot.EncTypeName, oot.EncText)
		if err != nil {
			return false, false
		}
		rv := goValueOf(v)
		if rv.IsValid() && rv.Type().AssignableTo(paramType) {
			return true, false
		}
		if paramType == WildcardType {
			return false, true
		}
		return false, false
	case value.OOTPinned:
		obj, ok := d.pins.TryGet(pin.Token(oot.Token))
		if !ok {
			return false, paramType.Kind() == reflect.Interface
		}
		if reflect.TypeOf(obj).AssignableTo(paramType) {
			return true, false
		}
		return false, paramType.Kind() == reflect.Interface
	case value.OOTTypeHandle:
		return false, paramType.Kind() == reflect.Interface
	}
	return false, false
}

// pickOverload enforces spec.md §8 "ambiguous cases raise a resolution
// error rather than choosing": prefer a single strict match; fall back
// to a single wildcard match; anything else is ambiguous or missing.
func pickOverload(strict, wildcard []candidate) (candidate, error) {
	if len(strict) == 1 {
		return strict[0], nil
	}
	if len(strict) > 1 {
		return candidate{}, agenterr.Resolution("ambiguous overload: %d candidates match exactly", len(strict))
	}
	if len(wildcard) == 1 {
		return wildcard[0], nil
	}
	if len(wildcard) > 1 {
		return candidate{}, agenterr.Resolution("ambiguous overload: %d candidates match via wildcard", len(wildcard))
	}
	return candidate{}, agenterr.Resolution("no overload matches the supplied argument types")
}

func (d *Dispatcher) invokeConcrete(recv reflect.Value, c candidate, args []value.ObjectOrToken) (Result, error) {
	ft := c.method.Type
	in := make([]reflect.Value, 0, ft.NumIn())
	if recv.IsValid() {
		in = append(in, adaptReceiver(recv, ft.In(0)))
	}
	for i, oot := range args {
		av, err := d.toReflectValue(oot, ft.In(i+len(in)))
		if err != nil {
			return Result{}, agenterr.Resolution("argument %d: %v", i, err)
		}
		in = append(in, av)
	}

	return d.callAndLift(c.method.Func, in)
}

func (d *Dispatcher) invokeGeneric(recv reflect.Value, c candidate, genericArgs []string, args []value.ObjectOrToken) (Result, error) {
	gi, ok := recv.Interface().(GenericInvoker)
	if !ok {
		return Result{}, agenterr.Resolution("%s does not implement generic dispatch", c.desc.FullName)
	}
	typeArgs := make([]reflect.Type, len(genericArgs))
	for i, name := range genericArgs {
		desc, ok := d.arena.Resolve("", name)
		if !ok {
			return Result{}, agenterr.Resolution("generic type argument not found: %s", name)
		}
		typeArgs[i] = desc.GoType
	}

	in := make([]reflect.Value, len(args))
	for i, oot := range args {
		av, err := d.toReflectValue(oot, WildcardType)
		if err != nil {
			return Result{}, agenterr.Resolution("argument %d: %v", i, err)
		}
		in[i] = av
	}

	out, err := gi.InvokeGeneric(c.member.Name, typeArgs, in)
	if err != nil {
		return Result{}, agenterr.Invocation(err.Error(), "")
	}
	if !out.IsValid() {
		return Result{IsVoid: true}, nil
	}
	return Result{Value: out}, nil
}

func (d *Dispatcher) callAndLift(fn reflect.Value, in []reflect.Value) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = agenterr.Invocation(fmt.Sprintf("%v", r), "")
		}
	}()

	out := fn.Call(in)
	// Trailing error return, if present, surfaces as an invocation error
	// carrying the target method's message (spec.md §4.7 "Uncaught
	// exceptions inside the target's method are captured and returned as
	// an error envelope").
	if n := len(out); n > 0 && out[n-1].Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		if e, ok := out[n-1].Interface().(error); ok && e != nil {
			return Result{}, agenterr.Invocation(e.Error(), "")
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return Result{IsVoid: true}, nil
	}
	return Result{Value: out[0]}, nil
}

func adaptReceiver(recv reflect.Value, want reflect.Type) reflect.Value {
	if recv.Type() == want {
		return recv
	}
	if want.Kind() == reflect.Ptr && recv.Kind() != reflect.Ptr {
		if recv.CanAddr() {
			return recv.Addr()
		}
		ptr := reflect.New(recv.Type())
		ptr.Elem().Set(recv)
		return ptr
	}
	if want.Kind() != reflect.Ptr && recv.Kind() == reflect.Ptr {
		return recv.Elem()
	}
	return recv
}

// toReflectValue converts a wire ObjectOrToken into a reflect.Value
// assignable to paramType, resolving pinned tokens, parsing encoded
// primitives, and substituting enum values per spec.md §4.7/§4.4.
func (d *Dispatcher) toReflectValue(oot value.ObjectOrToken, paramType reflect.Type) (reflect.Value, error) {
	switch oot.Kind {
	case value.OOTNull:
		return reflect.Zero(derefForZero(paramType)), nil
	case value.OOTEncoded:
		// Enum arguments are supplied as a reference to the enum's remote
		// value (spec.md §4.4/§4.7): EncTypeName names the enum type,
		// EncText names the symbolic member. Translate through the enum
		// registry before falling back to ordinary primitive decoding.
		if underlying, ok := d.enums.Lookup(oot.EncTypeName, oot.EncText); ok {
			return reflect.ValueOf(underlying).Convert(paramType), nil
		}
		parsed, err := value.ParseEncoded(oot.EncTypeName, oot.EncText)
		if err != nil {
			return reflect.Value{}, err
		}
		rv := goValueOf(parsed)
		if !rv.IsValid() {
			return reflect.Value{}, fmt.Errorf("cannot decode %s", oot.EncTypeName)
		}
		if rv.Type().ConvertibleTo(paramType) {
			return rv.Convert(paramType), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot assign %s to %s", rv.Type(), paramType)
	case value.OOTPinned:
		obj, ok := d.pins.TryGet(pin.Token(oot.Token))
		if !ok {
			return reflect.Value{}, agenterr.ErrNotPinned
		}
		rv := reflect.ValueOf(obj)
		if rv.Type().AssignableTo(paramType) {
			return rv, nil
		}
		if paramType.Kind() == reflect.Interface {
			return rv, nil
		}
		return reflect.Value{}, fmt.Errorf("cannot assign pinned %s to %s", rv.Type(), paramType)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported argument kind %d", oot.Kind)
	}
}

func derefForZero(t reflect.Type) reflect.Type {
	if t == nil {
		return WildcardType
	}
	return t
}

// goValueOf converts a decoded value.Value into the equivalent Go value.
func goValueOf(v value.Value) reflect.Value {
	switch vv := v.(type) {
	case value.Bool:
		return reflect.ValueOf(bool(vv))
	case value.Int8:
		return reflect.ValueOf(int8(vv))
	case value.Int16:
		return reflect.ValueOf(int16(vv))
	case value.Int32:
		return reflect.ValueOf(int32(vv))
	case value.Int64:
		return reflect.ValueOf(int64(vv))
	case value.Uint8:
		return reflect.ValueOf(uint8(vv))
	case value.Uint16:
		return reflect.ValueOf(uint16(vv))
	case value.Uint32:
		return reflect.ValueOf(uint32(vv))
	case value.Uint64:
		return reflect.ValueOf(uint64(vv))
	case value.Float32:
		return reflect.ValueOf(float32(vv))
	case value.Float64:
		return reflect.ValueOf(float64(vv))
	case value.String:
		return reflect.ValueOf(string(vv))
	case value.Time:
		return reflect.ValueOf(time.Time(vv))
	case value.Duration:
		return reflect.ValueOf(time.Duration(vv))
	}
	return reflect.Value{}
}

// LiftReturn converts a Dispatcher Result into a wire ObjectOrToken:
// primitives encode in place, non-primitives are pinned and returned as
// a token, per spec.md §4.7 "Returns are lifted to Object-or-token".
func (d *Dispatcher) LiftReturn(res Result) value.ObjectOrToken {
	if res.IsVoid || !res.Value.IsValid() {
		return value.Null_().WithTimestamp(time.Now())
	}
	rv := res.Value
	for rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return value.Null_().WithTimestamp(time.Now())
	}

	if prim, ok := toPrimitive(rv); ok {
		return value.Encoded(typesys.FingerprintOf(rv.Type()).FullName, prim.String()).WithTimestamp(time.Now())
	}

	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return value.Null_().WithTimestamp(time.Now())
	}
	obj := rv.Interface()
	if rv.Kind() != reflect.Ptr {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		obj = ptr.Interface()
	}
	tok := d.pins.Pin(obj)
	return value.Pinned(uint64(tok), typesys.FingerprintOf(reflect.TypeOf(obj)).FullName).WithTimestamp(time.Now())
}

func toPrimitive(rv reflect.Value) (value.Value, bool) {
	switch rv.Kind() {
	case reflect.Bool:
		return value.Bool(rv.Bool()), true
	case reflect.Int8:
		return value.Int8(rv.Int()), true
	case reflect.Int16:
		return value.Int16(rv.Int()), true
	case reflect.Int32:
		return value.Int32(rv.Int()), true
	case reflect.Int, reflect.Int64:
		return value.Int64(rv.Int()), true
	case reflect.Uint8:
		return value.Uint8(rv.Uint()), true
	case reflect.Uint16:
		return value.Uint16(rv.Uint()), true
	case reflect.Uint32:
		return value.Uint32(rv.Uint()), true
	case reflect.Uint, reflect.Uint64:
		return value.Uint64(rv.Uint()), true
	case reflect.Float32:
		return value.Float32(rv.Float()), true
	case reflect.Float64:
		return value.Float64(rv.Float()), true
	case reflect.String:
		return value.String(rv.String()), true
	}
	if rv.Type() == reflect.TypeOf(time.Time{}) {
		return value.Time(rv.Interface().(time.Time)), true
	}
	if rv.Type() == reflect.TypeOf(time.Duration(0)) {
		return value.Duration(rv.Interface().(time.Duration)), true
	}
	return nil, false
}
