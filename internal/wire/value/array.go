package value

import "strings"

// EncodeArray renders a primitive array in the comma-separated, quoted,
// backslash-escaped textual form spec.md §4.4 describes: each element's
// canonical String() form is quoted, and any literal comma inside an
// element is backslash-escaped so splitting on unescaped commas recovers
// the original elements exactly. An empty array encodes to an empty
// string (spec.md §8 boundary behaviour).
func EncodeArray(elems []Value) string {
	if len(elems) == 0 {
		return ""
	}
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = `"` + escapeCommas(e.String()) + `"`
	}
	return strings.Join(parts, ",")
}

func escapeCommas(s string) string {
	if !strings.ContainsAny(s, ",\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if r == ',' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DecodeArray reverses EncodeArray, reconstructing elements of kind k.
// A zero-length text reconstructs a zero-length array.
func DecodeArray(k Kind, text string) ([]Value, error) {
	if text == "" {
		return []Value{}, nil
	}

	raw := splitUnescaped(text)
	out := make([]Value, len(raw))
	for i, tok := range raw {
		tok = strings.TrimPrefix(tok, `"`)
		tok = strings.TrimSuffix(tok, `"`)
		v, err := Parse(k, unescapeCommas(tok))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// splitUnescaped splits s on commas that are not preceded by an odd
// number of backslashes.
func splitUnescaped(s string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

func unescapeCommas(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
