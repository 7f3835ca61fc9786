package value

import "time"

// kindNames maps a primitive's canonical type name (as it appears in an
// Object-or-token's EncTypeName, spec.md §3) to its Kind, so a decoder
// that only has the textual type name — the historical compatibility
// path's ambient state and the dispatcher's argument-binding path alike
// — can still recover a typed Value.
var kindNames = map[string]Kind{
	"bool":           KindBool,
	"int8":           KindInt8,
	"int16":          KindInt16,
	"int32":          KindInt32,
	"int64":          KindInt64,
	"int":            KindInt64,
	"uint8":          KindUint8,
	"uint16":         KindUint16,
	"uint32":         KindUint32,
	"uint64":         KindUint64,
	"uint":           KindUint64,
	"float32":        KindFloat32,
	"float64":        KindFloat64,
	"string":         KindString,
	"Time":           KindTime,
	"time.Time":      KindTime,
	"Duration":       KindDuration,
	"time.Duration":  KindDuration,
	"UUID":           KindUUID,
	"uuid.UUID":      KindUUID,
}

// KindByTypeName resolves a primitive's canonical type name to its Kind.
func KindByTypeName(name string) (Kind, bool) {
	k, ok := kindNames[name]
	return k, ok
}

// ParseEncoded recovers a Value from an Object-or-token's (EncTypeName,
// EncText) pair (spec.md §3 "Encoded(type-name, textual form)").
func ParseEncoded(typeName, text string) (Value, error) {
	k, ok := KindByTypeName(typeName)
	if !ok {
		return String(text), nil
	}
	return Parse(k, text)
}

// ToGo converts a decoded Value into the equivalent bare Go value, used
// by callers (the router's set_field/get_item handlers) that need a
// plain `any` rather than a reflect.Value or a further-typed Value.
func ToGo(v Value) any {
	switch vv := v.(type) {
	case Bool:
		return bool(vv)
	case Int8:
		return int8(vv)
	case Int16:
		return int16(vv)
	case Int32:
		return int32(vv)
	case Int64:
		return int64(vv)
	case Uint8:
		return uint8(vv)
	case Uint16:
		return uint16(vv)
	case Uint32:
		return uint32(vv)
	case Uint64:
		return uint64(vv)
	case Float32:
		return float32(vv)
	case Float64:
		return float64(vv)
	case String:
		return string(vv)
	case Time:
		return time.Time(vv)
	case Duration:
		return time.Duration(vv)
	case UUID:
		return vv
	default:
		return nil
	}
}
