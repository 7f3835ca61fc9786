package value

import (
	"fmt"
	"time"
)

// ObjectOrTokenKind tags which of the four shapes an ObjectOrToken
// carries (spec.md §3 "Object-or-token (wire value)").
type ObjectOrTokenKind byte

const (
	OOTNull ObjectOrTokenKind = iota
	OOTEncoded
	OOTPinned
	OOTTypeHandle
)

// ObjectOrToken is the tagged union every non-void wire result is lifted
// into: a self-describing encoded primitive, a reference to a pinned
// object, a bare type handle, or null. The Timestamp correlates the
// value to the snapshot generation it was computed against, per
// spec.md §3.
type ObjectOrToken struct {
	Kind ObjectOrTokenKind

	// OOTEncoded
	EncTypeName string
	EncText     string

	// OOTPinned
	Token        uint64
	PinTypeName  string

	// OOTTypeHandle
	Assembly string
	FullName string

	Timestamp time.Time
}

func Null_() ObjectOrToken { return ObjectOrToken{Kind: OOTNull} }

func Encoded(typeName, text string) ObjectOrToken {
	return ObjectOrToken{Kind: OOTEncoded, EncTypeName: typeName, EncText: text}
}

func Pinned(token uint64, typeName string) ObjectOrToken {
	return ObjectOrToken{Kind: OOTPinned, Token: token, PinTypeName: typeName}
}

func TypeHandle(assembly, fullName string) ObjectOrToken {
	return ObjectOrToken{Kind: OOTTypeHandle, Assembly: assembly, FullName: fullName}
}

func (o ObjectOrToken) WithTimestamp(t time.Time) ObjectOrToken {
	o.Timestamp = t
	return o
}

func (o ObjectOrToken) IsNull() bool { return o.Kind == OOTNull }

func WriteObjectOrToken(w *Writer, o ObjectOrToken) {
	w.WriteByte(byte(o.Kind))
	w.WriteInt64(o.Timestamp.UnixNano())
	switch o.Kind {
	case OOTNull:
	case OOTEncoded:
		w.WriteString(o.EncTypeName)
		w.WriteString(o.EncText)
	case OOTPinned:
		w.WriteUint64(o.Token)
		w.WriteString(o.PinTypeName)
	case OOTTypeHandle:
		w.WriteString(o.Assembly)
		w.WriteString(o.FullName)
	}
}

func ReadObjectOrToken(r *Reader) (ObjectOrToken, error) {
	kb, err := r.ReadByte()
	if err != nil {
		return ObjectOrToken{}, err
	}
	tsRaw, err := r.ReadInt64()
	if err != nil {
		return ObjectOrToken{}, err
	}
	ts := time.Unix(0, tsRaw).UTC()

	switch ObjectOrTokenKind(kb) {
	case OOTNull:
		return ObjectOrToken{Kind: OOTNull, Timestamp: ts}, nil
	case OOTEncoded:
		typeName, err := r.ReadString()
		if err != nil {
			return ObjectOrToken{}, err
		}
		text, err := r.ReadString()
		if err != nil {
			return ObjectOrToken{}, err
		}
		return Encoded(typeName, text).WithTimestamp(ts), nil
	case OOTPinned:
		tok, err := r.ReadUint64()
		if err != nil {
			return ObjectOrToken{}, err
		}
		typeName, err := r.ReadString()
		if err != nil {
			return ObjectOrToken{}, err
		}
		return Pinned(tok, typeName).WithTimestamp(ts), nil
	case OOTTypeHandle:
		assembly, err := r.ReadString()
		if err != nil {
			return ObjectOrToken{}, err
		}
		fullName, err := r.ReadString()
		if err != nil {
			return ObjectOrToken{}, err
		}
		return TypeHandle(assembly, fullName).WithTimestamp(ts), nil
	default:
		return ObjectOrToken{}, fmt.Errorf("value: unknown object-or-token kind %d", kb)
	}
}
