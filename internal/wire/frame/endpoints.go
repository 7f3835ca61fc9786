package frame

// The fixed set of wire verbs (spec.md §4.3). Declaring them as typed
// constants; the names double as the frame's endpoint string.
const (
	EndpointPing             = "/ping"
	EndpointRegisterClient   = "/register_client"
	EndpointUnregisterClient = "/unregister_client"
	EndpointDomains          = "/domains"
	EndpointTypes            = "/types"
	EndpointType             = "/type"
	EndpointHeap             = "/heap"
	EndpointObject           = "/object"
	EndpointCreateObject     = "/create_object"
	EndpointInvoke           = "/invoke"
	EndpointGetField         = "/get_field"
	EndpointSetField         = "/set_field"
	EndpointGetItem          = "/get_item"
	EndpointUnpin            = "/unpin"
	EndpointEventSubscribe   = "/event_subscribe"
	EndpointEventUnsubscribe = "/event_unsubscribe"
	EndpointHookMethod       = "/hook_method"
	EndpointUnhookMethod     = "/unhook_method"
	EndpointInvokeCallback   = "/invoke_callback"
	EndpointHookCallback     = "/hook_callback"
)

// knownEndpoints is every endpoint string the codec special-cases for
// zero-allocation canonicalisation. Built once at package init from an
// FNV-1a hash of each string so the hot decode path never allocates for
// a known verb; anything outside this set still decodes correctly, just
// via a fresh string allocation (spec.md §4.1: "unknown endpoints are
// accepted and allocated normally").
var knownEndpoints = buildEndpointTable(
	EndpointPing,
	EndpointRegisterClient,
	EndpointUnregisterClient,
	EndpointDomains,
	EndpointTypes,
	EndpointType,
	EndpointHeap,
	EndpointObject,
	EndpointCreateObject,
	EndpointInvoke,
	EndpointGetField,
	EndpointSetField,
	EndpointGetItem,
	EndpointUnpin,
	EndpointEventSubscribe,
	EndpointEventUnsubscribe,
	EndpointHookMethod,
	EndpointUnhookMethod,
	EndpointInvokeCallback,
	EndpointHookCallback,
)

func buildEndpointTable(names ...string) map[uint64]string {
	m := make(map[uint64]string, len(names))
	for _, n := range names {
		m[fnv1a(n)] = n
	}
	return m
}

// fnv1a computes the 64-bit FNV-1a hash of s.
func fnv1a(s string) uint64 {
	const (
		offset uint64 = 14695981039346656037
		prime  uint64 = 1099511628211
	)
	h := offset
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

// canonicalEndpoint maps raw endpoint bytes to the shared canonical
// string for known verbs, avoiding a per-frame allocation on the hot
// path; unknown endpoints fall back to a normal string conversion.
func canonicalEndpoint(raw []byte) string {
	h := fnv1aBytes(raw)
	if s, ok := knownEndpoints[h]; ok && len(s) == len(raw) {
		return s
	}
	return string(raw)
}

func fnv1aBytes(b []byte) uint64 {
	const (
		offset uint64 = 14695981039346656037
		prime  uint64 = 1099511628211
	)
	h := offset
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}
