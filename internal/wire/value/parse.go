package value

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Parse recovers a Value from its canonical textual form for the given
// Kind — the inverse of Value.String(), used by the historical
// query-string/textual compatibility path (spec.md §6, §9).
func Parse(k Kind, text string) (Value, error) {
	switch k {
	case KindNull:
		return Null{}, nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		return Bool(b), err
	case KindInt8:
		n, err := strconv.ParseInt(text, 10, 8)
		return Int8(n), err
	case KindInt16:
		n, err := strconv.ParseInt(text, 10, 16)
		return Int16(n), err
	case KindInt32:
		n, err := strconv.ParseInt(text, 10, 32)
		return Int32(n), err
	case KindInt64:
		n, err := strconv.ParseInt(text, 10, 64)
		return Int64(n), err
	case KindUint8:
		n, err := strconv.ParseUint(text, 10, 8)
		return Uint8(n), err
	case KindUint16:
		n, err := strconv.ParseUint(text, 10, 16)
		return Uint16(n), err
	case KindUint32:
		n, err := strconv.ParseUint(text, 10, 32)
		return Uint32(n), err
	case KindUint64:
		n, err := strconv.ParseUint(text, 10, 64)
		return Uint64(n), err
	case KindFloat32:
		f, err := strconv.ParseFloat(text, 32)
		return Float32(f), err
	case KindFloat64:
		f, err := strconv.ParseFloat(text, 64)
		return Float64(f), err
	case KindString:
		return String(text), nil
	case KindTime:
		t, err := time.Parse(time.RFC3339Nano, text)
		return Time(t), err
	case KindDuration:
		d, err := time.ParseDuration(text)
		return Duration(d), err
	case KindUUID:
		id, err := uuid.Parse(text)
		return UUID(id), err
	case KindEnum:
		dot := strings.LastIndexByte(text, '.')
		if dot < 0 {
			return nil, fmt.Errorf("value: malformed enum text %q", text)
		}
		return Enum{TypeName: text[:dot], Name: text[dot+1:]}, nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", k)
	}
}
