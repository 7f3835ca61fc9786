package message

import "github.com/agentlink/agentlink/internal/wire/value"

// --- ping ---

type PingResponse struct{ Status string }

func (r PingResponse) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.Status)
	return w.Bytes()
}

func DecodePingResponse(buf []byte) (PingResponse, error) {
	s, err := value.NewReader(buf).ReadString()
	return PingResponse{Status: s}, err
}

// --- register_client / unregister_client ---

type ClientIDRequest struct{ ProcessID int64 }

func (r ClientIDRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteInt64(r.ProcessID)
	return w.Bytes()
}

func DecodeClientIDRequest(buf []byte) (ClientIDRequest, error) {
	v, err := value.NewReader(buf).ReadInt64()
	return ClientIDRequest{ProcessID: v}, err
}

type ClientCountResponse struct {
	Removed   bool
	Remaining int32
}

func (r ClientCountResponse) Encode() []byte {
	w := value.NewWriter()
	w.WriteBool(r.Removed)
	w.WriteInt32(r.Remaining)
	return w.Bytes()
}

func DecodeClientCountResponse(buf []byte) (ClientCountResponse, error) {
	r := value.NewReader(buf)
	removed, err := r.ReadBool()
	if err != nil {
		return ClientCountResponse{}, err
	}
	remaining, err := r.ReadInt32()
	return ClientCountResponse{Removed: removed, Remaining: remaining}, err
}

// --- domains ---

type DomainsResponse struct {
	DomainName string
	Modules    []string
}

func (r DomainsResponse) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.DomainName)
	w.WriteInt32(int32(len(r.Modules)))
	for _, m := range r.Modules {
		w.WriteString(m)
	}
	return w.Bytes()
}

func DecodeDomainsResponse(buf []byte) (DomainsResponse, error) {
	r := value.NewReader(buf)
	var out DomainsResponse
	var err error
	if out.DomainName, err = r.ReadString(); err != nil {
		return out, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Modules = make([]string, n)
	for i := range out.Modules {
		if out.Modules[i], err = r.ReadString(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// --- types ---

type TypesRequest struct{ Assembly string }

func (r TypesRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.Assembly)
	return w.Bytes()
}

func DecodeTypesRequest(buf []byte) (TypesRequest, error) {
	s, err := value.NewReader(buf).ReadString()
	return TypesRequest{Assembly: s}, err
}

type TypesResponse struct {
	Assembly string
	Types    []string
}

func (r TypesResponse) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.Assembly)
	w.WriteInt32(int32(len(r.Types)))
	for _, t := range r.Types {
		w.WriteString(t)
	}
	return w.Bytes()
}

func DecodeTypesResponse(buf []byte) (TypesResponse, error) {
	r := value.NewReader(buf)
	var out TypesResponse
	var err error
	if out.Assembly, err = r.ReadString(); err != nil {
		return out, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Types = make([]string, n)
	for i := range out.Types {
		if out.Types[i], err = r.ReadString(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// --- type ---

type TypeRequest struct {
	FullName string `validate:"required"`
	Assembly string // optional: empty means "search all loaded assemblies"
}

func (r TypeRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.FullName)
	w.WriteString(r.Assembly)
	return w.Bytes()
}

func DecodeTypeRequest(buf []byte) (TypeRequest, error) {
	r := value.NewReader(buf)
	var out TypeRequest
	var err error
	if out.FullName, err = r.ReadString(); err != nil {
		return out, err
	}
	out.Assembly, err = r.ReadString()
	return out, err
}

func EncodeTypeResponse(t TypeDescriptor) []byte {
	w := value.NewWriter()
	EncodeTypeDescriptor(w, t)
	return w.Bytes()
}

func DecodeTypeResponse(buf []byte) (TypeDescriptor, error) {
	return DecodeTypeDescriptor(value.NewReader(buf))
}

// --- heap ---

type HeapRequest struct {
	TypeFilter     string
	DumpHashcodes  bool
}

func (r HeapRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.TypeFilter)
	w.WriteBool(r.DumpHashcodes)
	return w.Bytes()
}

func DecodeHeapRequest(buf []byte) (HeapRequest, error) {
	r := value.NewReader(buf)
	var out HeapRequest
	var err error
	if out.TypeFilter, err = r.ReadString(); err != nil {
		return out, err
	}
	out.DumpHashcodes, err = r.ReadBool()
	return out, err
}

type HeapObject struct {
	Address      uint64
	Type         string
	HasHashcode  bool
	Hashcode     int32
}

type HeapResponse struct{ Objects []HeapObject }

func (r HeapResponse) Encode() []byte {
	w := value.NewWriter()
	w.WriteInt32(int32(len(r.Objects)))
	for _, o := range r.Objects {
		w.WriteUint64(o.Address)
		w.WriteString(o.Type)
		w.WriteBool(o.HasHashcode)
		if o.HasHashcode {
			w.WriteInt32(o.Hashcode)
		}
	}
	return w.Bytes()
}

func DecodeHeapResponse(buf []byte) (HeapResponse, error) {
	r := value.NewReader(buf)
	n, err := r.ReadInt32()
	if err != nil {
		return HeapResponse{}, err
	}
	out := HeapResponse{Objects: make([]HeapObject, n)}
	for i := range out.Objects {
		addr, err := r.ReadUint64()
		if err != nil {
			return out, err
		}
		typ, err := r.ReadString()
		if err != nil {
			return out, err
		}
		has, err := r.ReadBool()
		if err != nil {
			return out, err
		}
		var hc int32
		if has {
			if hc, err = r.ReadInt32(); err != nil {
				return out, err
			}
		}
		out.Objects[i] = HeapObject{Address: addr, Type: typ, HasHashcode: has, Hashcode: hc}
	}
	return out, nil
}

// --- object ---

type ObjectRequest struct {
	Address     uint64
	TypeName    string
	Pin         bool
	HasHashcode bool
	Hashcode    int32
}

func (r ObjectRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.Address)
	w.WriteString(r.TypeName)
	w.WriteBool(r.Pin)
	w.WriteBool(r.HasHashcode)
	if r.HasHashcode {
		w.WriteInt32(r.Hashcode)
	}
	return w.Bytes()
}

func DecodeObjectRequest(buf []byte) (ObjectRequest, error) {
	r := value.NewReader(buf)
	var out ObjectRequest
	var err error
	if out.Address, err = r.ReadUint64(); err != nil {
		return out, err
	}
	if out.TypeName, err = r.ReadString(); err != nil {
		return out, err
	}
	if out.Pin, err = r.ReadBool(); err != nil {
		return out, err
	}
	if out.HasHashcode, err = r.ReadBool(); err != nil {
		return out, err
	}
	if out.HasHashcode {
		out.Hashcode, err = r.ReadInt32()
	}
	return out, err
}

type MemberValue struct {
	Name  string
	Value value.ObjectOrToken
}

// ObjectResponse is an object dump: every field and property lifted to
// an Object-or-token, per spec.md §4.3 "object" response and §4.11
// "fields/properties trigger a type dump".
type ObjectResponse struct {
	Token   uint64
	Members []MemberValue
}

func (r ObjectResponse) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.Token)
	w.WriteInt32(int32(len(r.Members)))
	for _, m := range r.Members {
		w.WriteString(m.Name)
		value.WriteObjectOrToken(w, m.Value)
	}
	return w.Bytes()
}

func DecodeObjectResponse(buf []byte) (ObjectResponse, error) {
	r := value.NewReader(buf)
	var out ObjectResponse
	var err error
	if out.Token, err = r.ReadUint64(); err != nil {
		return out, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Members = make([]MemberValue, n)
	for i := range out.Members {
		name, err := r.ReadString()
		if err != nil {
			return out, err
		}
		v, err := value.ReadObjectOrToken(r)
		if err != nil {
			return out, err
		}
		out.Members[i] = MemberValue{Name: name, Value: v}
	}
	return out, nil
}

// --- create_object / invoke / get_field / set_field / get_item share
// InvocationResult as their response shape (spec.md §4.3 "An Invocation
// result is either void or carries one Object-or-token.").

type InvocationResult struct {
	IsVoid   bool
	Returned value.ObjectOrToken
}

func (r InvocationResult) Encode() []byte {
	w := value.NewWriter()
	w.WriteBool(r.IsVoid)
	if !r.IsVoid {
		value.WriteObjectOrToken(w, r.Returned)
	}
	return w.Bytes()
}

func DecodeInvocationResult(buf []byte) (InvocationResult, error) {
	r := value.NewReader(buf)
	isVoid, err := r.ReadBool()
	if err != nil {
		return InvocationResult{}, err
	}
	if isVoid {
		return InvocationResult{IsVoid: true}, nil
	}
	v, err := value.ReadObjectOrToken(r)
	return InvocationResult{Returned: v}, err
}

type CreateObjectRequest struct {
	TypeFullName string `validate:"required"`
	Parameters   []value.ObjectOrToken
}

func (r CreateObjectRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.TypeFullName)
	w.WriteInt32(int32(len(r.Parameters)))
	for _, p := range r.Parameters {
		value.WriteObjectOrToken(w, p)
	}
	return w.Bytes()
}

func DecodeCreateObjectRequest(buf []byte) (CreateObjectRequest, error) {
	r := value.NewReader(buf)
	var out CreateObjectRequest
	var err error
	if out.TypeFullName, err = r.ReadString(); err != nil {
		return out, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Parameters = make([]value.ObjectOrToken, n)
	for i := range out.Parameters {
		if out.Parameters[i], err = value.ReadObjectOrToken(r); err != nil {
			return out, err
		}
	}
	return out, nil
}

type InvokeRequest struct {
	ObjAddress   uint64
	TypeFullName string `validate:"required"`
	Method       string `validate:"required"`
	GenericArgs  []string
	Parameters   []value.ObjectOrToken
	ForceUIThread bool
}

func (r InvokeRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.ObjAddress)
	w.WriteString(r.TypeFullName)
	w.WriteString(r.Method)
	w.WriteInt32(int32(len(r.GenericArgs)))
	for _, g := range r.GenericArgs {
		w.WriteString(g)
	}
	w.WriteInt32(int32(len(r.Parameters)))
	for _, p := range r.Parameters {
		value.WriteObjectOrToken(w, p)
	}
	w.WriteBool(r.ForceUIThread)
	return w.Bytes()
}

func DecodeInvokeRequest(buf []byte) (InvokeRequest, error) {
	r := value.NewReader(buf)
	var out InvokeRequest
	var err error
	if out.ObjAddress, err = r.ReadUint64(); err != nil {
		return out, err
	}
	if out.TypeFullName, err = r.ReadString(); err != nil {
		return out, err
	}
	if out.Method, err = r.ReadString(); err != nil {
		return out, err
	}
	gn, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.GenericArgs = make([]string, gn)
	for i := range out.GenericArgs {
		if out.GenericArgs[i], err = r.ReadString(); err != nil {
			return out, err
		}
	}
	pn, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Parameters = make([]value.ObjectOrToken, pn)
	for i := range out.Parameters {
		if out.Parameters[i], err = value.ReadObjectOrToken(r); err != nil {
			return out, err
		}
	}
	out.ForceUIThread, err = r.ReadBool()
	return out, err
}

type FieldRequest struct {
	ObjAddress   uint64
	TypeFullName string `validate:"required"`
	Field        string `validate:"required"`
	Value        value.ObjectOrToken // only meaningful for set_field
	HasValue     bool
}

func (r FieldRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.ObjAddress)
	w.WriteString(r.TypeFullName)
	w.WriteString(r.Field)
	w.WriteBool(r.HasValue)
	if r.HasValue {
		value.WriteObjectOrToken(w, r.Value)
	}
	return w.Bytes()
}

func DecodeFieldRequest(buf []byte) (FieldRequest, error) {
	r := value.NewReader(buf)
	var out FieldRequest
	var err error
	if out.ObjAddress, err = r.ReadUint64(); err != nil {
		return out, err
	}
	if out.TypeFullName, err = r.ReadString(); err != nil {
		return out, err
	}
	if out.Field, err = r.ReadString(); err != nil {
		return out, err
	}
	if out.HasValue, err = r.ReadBool(); err != nil {
		return out, err
	}
	if out.HasValue {
		out.Value, err = value.ReadObjectOrToken(r)
	}
	return out, err
}

type GetItemRequest struct {
	CollectionAddress uint64
	Index             value.ObjectOrToken
	Pin               bool
}

func (r GetItemRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.CollectionAddress)
	value.WriteObjectOrToken(w, r.Index)
	w.WriteBool(r.Pin)
	return w.Bytes()
}

func DecodeGetItemRequest(buf []byte) (GetItemRequest, error) {
	r := value.NewReader(buf)
	var out GetItemRequest
	var err error
	if out.CollectionAddress, err = r.ReadUint64(); err != nil {
		return out, err
	}
	if out.Index, err = value.ReadObjectOrToken(r); err != nil {
		return out, err
	}
	out.Pin, err = r.ReadBool()
	return out, err
}

// --- unpin ---

type UnpinRequest struct{ Address uint64 }

func (r UnpinRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.Address)
	return w.Bytes()
}

func DecodeUnpinRequest(buf []byte) (UnpinRequest, error) {
	v, err := value.NewReader(buf).ReadUint64()
	return UnpinRequest{Address: v}, err
}

// --- event_subscribe / event_unsubscribe ---

type EventSubscribeRequest struct {
	Address          uint64
	Event            string `validate:"required"`
	CallbackEndpoint string `validate:"required"`
}

func (r EventSubscribeRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.Address)
	w.WriteString(r.Event)
	w.WriteString(r.CallbackEndpoint)
	return w.Bytes()
}

func DecodeEventSubscribeRequest(buf []byte) (EventSubscribeRequest, error) {
	r := value.NewReader(buf)
	var out EventSubscribeRequest
	var err error
	if out.Address, err = r.ReadUint64(); err != nil {
		return out, err
	}
	if out.Event, err = r.ReadString(); err != nil {
		return out, err
	}
	out.CallbackEndpoint, err = r.ReadString()
	return out, err
}

type TokenResponse struct{ Token uint64 }

func (r TokenResponse) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.Token)
	return w.Bytes()
}

func DecodeTokenResponse(buf []byte) (TokenResponse, error) {
	v, err := value.NewReader(buf).ReadUint64()
	return TokenResponse{Token: v}, err
}

type TokenRequest struct{ Token uint64 }

func (r TokenRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(r.Token)
	return w.Bytes()
}

func DecodeTokenRequest(buf []byte) (TokenRequest, error) {
	v, err := value.NewReader(buf).ReadUint64()
	return TokenRequest{Token: v}, err
}

// --- hook_method / unhook_method ---

type HookPosition byte

const (
	HookPrefix HookPosition = iota
	HookPostfix
	HookFinalizer
)

type HookMethodRequest struct {
	Type       string `validate:"required"`
	Method     string `validate:"required"`
	Position   HookPosition
	Parameters []string
}

func (r HookMethodRequest) Encode() []byte {
	w := value.NewWriter()
	w.WriteString(r.Type)
	w.WriteString(r.Method)
	w.WriteByte(byte(r.Position))
	w.WriteInt32(int32(len(r.Parameters)))
	for _, p := range r.Parameters {
		w.WriteString(p)
	}
	return w.Bytes()
}

func DecodeHookMethodRequest(buf []byte) (HookMethodRequest, error) {
	r := value.NewReader(buf)
	var out HookMethodRequest
	var err error
	if out.Type, err = r.ReadString(); err != nil {
		return out, err
	}
	if out.Method, err = r.ReadString(); err != nil {
		return out, err
	}
	pb, err := r.ReadByte()
	if err != nil {
		return out, err
	}
	out.Position = HookPosition(pb)
	n, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Parameters = make([]string, n)
	for i := range out.Parameters {
		if out.Parameters[i], err = r.ReadString(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// --- invoke_callback / hook_callback (unsolicited, id 0) ---

type InvokeCallbackBody struct {
	Token      uint64
	Parameters []value.ObjectOrToken
}

func (b InvokeCallbackBody) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(b.Token)
	w.WriteInt32(int32(len(b.Parameters)))
	for _, p := range b.Parameters {
		value.WriteObjectOrToken(w, p)
	}
	return w.Bytes()
}

func DecodeInvokeCallbackBody(buf []byte) (InvokeCallbackBody, error) {
	r := value.NewReader(buf)
	var out InvokeCallbackBody
	var err error
	if out.Token, err = r.ReadUint64(); err != nil {
		return out, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Parameters = make([]value.ObjectOrToken, n)
	for i := range out.Parameters {
		if out.Parameters[i], err = value.ReadObjectOrToken(r); err != nil {
			return out, err
		}
	}
	return out, nil
}

type HookCallbackBody struct {
	Token      uint64
	Instance   value.ObjectOrToken
	Args       []value.ObjectOrToken
}

func (b HookCallbackBody) Encode() []byte {
	w := value.NewWriter()
	w.WriteUint64(b.Token)
	value.WriteObjectOrToken(w, b.Instance)
	w.WriteInt32(int32(len(b.Args)))
	for _, a := range b.Args {
		value.WriteObjectOrToken(w, a)
	}
	return w.Bytes()
}

func DecodeHookCallbackBody(buf []byte) (HookCallbackBody, error) {
	r := value.NewReader(buf)
	var out HookCallbackBody
	var err error
	if out.Token, err = r.ReadUint64(); err != nil {
		return out, err
	}
	if out.Instance, err = value.ReadObjectOrToken(r); err != nil {
		return out, err
	}
	n, err := r.ReadInt32()
	if err != nil {
		return out, err
	}
	out.Args = make([]value.ObjectOrToken, n)
	for i := range out.Args {
		if out.Args[i], err = value.ReadObjectOrToken(r); err != nil {
			return out, err
		}
	}
	return out, nil
}
