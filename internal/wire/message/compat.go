package message

import "net/url"

// EncodeQueryString renders params using the historical compatibility
// encoding spec.md §6 and §9 describe: "the same endpoints also accept
// query-string parameters and a textual-object encoding". Only
// cmd/agentctl's --legacy-encoding path uses this; every other path uses
// the binary scheme in verbs.go.
func EncodeQueryString(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v.Encode()
}

// DecodeQueryString parses the historical query-string body back into a
// flat string map.
func DecodeQueryString(body string) (map[string]string, error) {
	v, err := url.ParseQuery(body)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out, nil
}
