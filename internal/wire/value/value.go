package value

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind tags the wire representation of a primitive value, covering the
// primitive set spec.md §4.4 asks for.
type Kind byte

const (
	KindNull Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindTime
	KindDuration
	KindUUID
	KindEnum
)

// Value is a primitive wire value: every supported type has a canonical
// textual form (String/Parse) that round-trips exactly, per spec.md
// §4.4, in addition to its binary Write/Read form.
type Value interface {
	Kind() Kind
	Write(w *Writer)
	String() string
}

// Null is the wire representation of "no value" for a primitive slot.
type Null struct{}

func (Null) Kind() Kind        { return KindNull }
func (Null) Write(w *Writer)   {}
func (Null) String() string    { return "" }

type Bool bool

func (v Bool) Kind() Kind      { return KindBool }
func (v Bool) Write(w *Writer) { w.WriteBool(bool(v)) }
func (v Bool) String() string  { return strconv.FormatBool(bool(v)) }

type Int64 int64

func (v Int64) Kind() Kind      { return KindInt64 }
func (v Int64) Write(w *Writer) { w.WriteInt64(int64(v)) }
func (v Int64) String() string  { return strconv.FormatInt(int64(v), 10) }

type Int32 int32

func (v Int32) Kind() Kind      { return KindInt32 }
func (v Int32) Write(w *Writer) { w.WriteInt32(int32(v)) }
func (v Int32) String() string  { return strconv.FormatInt(int64(v), 10) }

type Int16 int16

func (v Int16) Kind() Kind      { return KindInt16 }
func (v Int16) Write(w *Writer) { w.WriteInt16(int16(v)) }
func (v Int16) String() string  { return strconv.FormatInt(int64(v), 10) }

type Int8 int8

func (v Int8) Kind() Kind      { return KindInt8 }
func (v Int8) Write(w *Writer) { w.WriteByte(byte(v)) }
func (v Int8) String() string  { return strconv.FormatInt(int64(v), 10) }

type Uint64 uint64

func (v Uint64) Kind() Kind      { return KindUint64 }
func (v Uint64) Write(w *Writer) { w.WriteUint64(uint64(v)) }
func (v Uint64) String() string  { return strconv.FormatUint(uint64(v), 10) }

type Uint32 uint32

func (v Uint32) Kind() Kind      { return KindUint32 }
func (v Uint32) Write(w *Writer) { w.WriteUint32(uint32(v)) }
func (v Uint32) String() string  { return strconv.FormatUint(uint64(v), 10) }

type Uint16 uint16

func (v Uint16) Kind() Kind      { return KindUint16 }
func (v Uint16) Write(w *Writer) { w.WriteUint16(uint16(v)) }
func (v Uint16) String() string  { return strconv.FormatUint(uint64(v), 10) }

type Uint8 uint8

func (v Uint8) Kind() Kind      { return KindUint8 }
func (v Uint8) Write(w *Writer) { w.WriteByte(byte(v)) }
func (v Uint8) String() string  { return strconv.FormatUint(uint64(v), 10) }

type Float32 float32

func (v Float32) Kind() Kind      { return KindFloat32 }
func (v Float32) Write(w *Writer) { w.WriteFloat32(float32(v)) }
func (v Float32) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 32) }

type Float64 float64

func (v Float64) Kind() Kind      { return KindFloat64 }
func (v Float64) Write(w *Writer) { w.WriteFloat64(float64(v)) }
func (v Float64) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

type String string

func (v String) Kind() Kind      { return KindString }
func (v String) Write(w *Writer) { w.WriteString(string(v)) }
func (v String) String() string  { return string(v) }

// Time is the date/time primitive, encoded as Unix nanoseconds.
type Time time.Time

func (v Time) Kind() Kind      { return KindTime }
func (v Time) Write(w *Writer) { w.WriteInt64(time.Time(v).UnixNano()) }
func (v Time) String() string  { return time.Time(v).Format(time.RFC3339Nano) }

// Duration is the time-span primitive.
type Duration time.Duration

func (v Duration) Kind() Kind      { return KindDuration }
func (v Duration) Write(w *Writer) { w.WriteInt64(int64(v)) }
func (v Duration) String() string  { return time.Duration(v).String() }

// UUID is the globally-unique-identifier primitive.
type UUID uuid.UUID

func (v UUID) Kind() Kind {
	return KindUUID
}

func (v UUID) Write(w *Writer) {
	id := uuid.UUID(v)
	w.WriteBlob(id[:])
}

func (v UUID) String() string { return uuid.UUID(v).String() }

// Enum is supplied as a method argument or returned value; per spec.md
// §4.4 it is never encoded as a raw integer so that multi-bit flag
// enums are not mis-flagged — it carries both the declaring type's full
// name and the symbolic member name, with the underlying integral value
// as a fallback for unresolved / flags-combination cases.
type Enum struct {
	TypeName   string
	Name       string
	Underlying int64
}

func (v Enum) Kind() Kind { return KindEnum }
func (v Enum) Write(w *Writer) {
	w.WriteString(v.TypeName)
	w.WriteString(v.Name)
	w.WriteInt64(v.Underlying)
}
func (v Enum) String() string { return v.TypeName + "." + v.Name }

// WriteTagged writes the Kind byte followed by the value's own body.
func WriteTagged(w *Writer, v Value) {
	if v == nil {
		v = Null{}
	}
	w.WriteByte(byte(v.Kind()))
	v.Write(w)
}

// ReadTagged reads a Kind byte and dispatches to the matching reader.
func ReadTagged(r *Reader) (Value, error) {
	kb, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	return readBody(r, Kind(kb))
}

func readBody(r *Reader, k Kind) (Value, error) {
	switch k {
	case KindNull:
		return Null{}, nil
	case KindBool:
		b, err := r.ReadBool()
		return Bool(b), err
	case KindInt8:
		b, err := r.ReadByte()
		return Int8(int8(b)), err
	case KindInt16:
		v, err := r.ReadInt16()
		return Int16(v), err
	case KindInt32:
		v, err := r.ReadInt32()
		return Int32(v), err
	case KindInt64:
		v, err := r.ReadInt64()
		return Int64(v), err
	case KindUint8:
		b, err := r.ReadByte()
		return Uint8(b), err
	case KindUint16:
		v, err := r.ReadUint16()
		return Uint16(v), err
	case KindUint32:
		v, err := r.ReadUint32()
		return Uint32(v), err
	case KindUint64:
		v, err := r.ReadUint64()
		return Uint64(v), err
	case KindFloat32:
		v, err := r.ReadFloat32()
		return Float32(v), err
	case KindFloat64:
		v, err := r.ReadFloat64()
		return Float64(v), err
	case KindString:
		s, err := r.ReadString()
		return String(s), err
	case KindTime:
		v, err := r.ReadInt64()
		return Time(time.Unix(0, v).UTC()), err
	case KindDuration:
		v, err := r.ReadInt64()
		return Duration(v), err
	case KindUUID:
		b, err := r.ReadBlob()
		if err != nil {
			return nil, err
		}
		id, err := uuid.FromBytes(b)
		return UUID(id), err
	case KindEnum:
		typeName, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		underlying, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		return Enum{TypeName: typeName, Name: name, Underlying: underlying}, nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", k)
	}
}
