package message

import "github.com/agentlink/agentlink/internal/wire/value"

// MemberKind distinguishes the five member variants of spec.md §3 "Member
// descriptor".
type MemberKind byte

const (
	MemberField MemberKind = iota
	MemberProperty
	MemberMethod
	MemberConstructor
	MemberEvent
)

// ParamDescriptor describes one method/constructor parameter or a
// property/event's associated type.
type ParamDescriptor struct {
	Name     string
	TypeName string
	Assembly string
}

// MemberDescriptor is the wire form of spec.md §3 "Member descriptor":
// a tagged variant carrying parameter lists and a return-type reference
// that is itself resolved lazily by (assembly, full name), never
// embedded recursively.
type MemberDescriptor struct {
	Kind       MemberKind
	Name       string
	Params     []ParamDescriptor
	ReturnType ParamDescriptor // zero value for void / fields with no return
	IsStatic   bool
	IsGeneric  bool
	GenericArgNames []string

	// For Property/Event: cross-references to accessor method names,
	// resolved by the client after all methods of the declaring type are
	// known (spec.md §3).
	Accessors []string
}

// TypeDescriptor is the wire form of spec.md §3 "Type descriptor".
// Identity is (Assembly, FullName); BaseFullName/BaseAssembly are a
// lazy back-reference, not an embedded descriptor, to keep cyclic type
// graphs representable (spec.md §9).
type TypeDescriptor struct {
	FullName     string
	Assembly     string
	BaseFullName string
	BaseAssembly string
	Members      []MemberDescriptor
}

func encodeParam(w *value.Writer, p ParamDescriptor) {
	w.WriteString(p.Name)
	w.WriteString(p.TypeName)
	w.WriteString(p.Assembly)
}

func decodeParam(r *value.Reader) (ParamDescriptor, error) {
	var p ParamDescriptor
	var err error
	if p.Name, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.TypeName, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.Assembly, err = r.ReadString(); err != nil {
		return p, err
	}
	return p, nil
}

func encodeMember(w *value.Writer, m MemberDescriptor) {
	w.WriteByte(byte(m.Kind))
	w.WriteString(m.Name)
	w.WriteBool(m.IsStatic)
	w.WriteBool(m.IsGeneric)

	w.WriteInt32(int32(len(m.GenericArgNames)))
	for _, g := range m.GenericArgNames {
		w.WriteString(g)
	}

	w.WriteInt32(int32(len(m.Params)))
	for _, p := range m.Params {
		encodeParam(w, p)
	}
	encodeParam(w, m.ReturnType)

	w.WriteInt32(int32(len(m.Accessors)))
	for _, a := range m.Accessors {
		w.WriteString(a)
	}
}

func decodeMember(r *value.Reader) (MemberDescriptor, error) {
	var m MemberDescriptor
	kb, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.Kind = MemberKind(kb)
	if m.Name, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.IsStatic, err = r.ReadBool(); err != nil {
		return m, err
	}
	if m.IsGeneric, err = r.ReadBool(); err != nil {
		return m, err
	}

	gn, err := r.ReadInt32()
	if err != nil {
		return m, err
	}
	m.GenericArgNames = make([]string, gn)
	for i := range m.GenericArgNames {
		if m.GenericArgNames[i], err = r.ReadString(); err != nil {
			return m, err
		}
	}

	pn, err := r.ReadInt32()
	if err != nil {
		return m, err
	}
	m.Params = make([]ParamDescriptor, pn)
	for i := range m.Params {
		if m.Params[i], err = decodeParam(r); err != nil {
			return m, err
		}
	}
	if m.ReturnType, err = decodeParam(r); err != nil {
		return m, err
	}

	an, err := r.ReadInt32()
	if err != nil {
		return m, err
	}
	m.Accessors = make([]string, an)
	for i := range m.Accessors {
		if m.Accessors[i], err = r.ReadString(); err != nil {
			return m, err
		}
	}
	return m, nil
}

func EncodeTypeDescriptor(w *value.Writer, t TypeDescriptor) {
	w.WriteString(t.FullName)
	w.WriteString(t.Assembly)
	w.WriteString(t.BaseFullName)
	w.WriteString(t.BaseAssembly)
	w.WriteInt32(int32(len(t.Members)))
	for _, m := range t.Members {
		encodeMember(w, m)
	}
}

func DecodeTypeDescriptor(r *value.Reader) (TypeDescriptor, error) {
	var t TypeDescriptor
	var err error
	if t.FullName, err = r.ReadString(); err != nil {
		return t, err
	}
	if t.Assembly, err = r.ReadString(); err != nil {
		return t, err
	}
	if t.BaseFullName, err = r.ReadString(); err != nil {
		return t, err
	}
	if t.BaseAssembly, err = r.ReadString(); err != nil {
		return t, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return t, err
	}
	t.Members = make([]MemberDescriptor, n)
	for i := range t.Members {
		if t.Members[i], err = decodeMember(r); err != nil {
			return t, err
		}
	}
	return t, nil
}
