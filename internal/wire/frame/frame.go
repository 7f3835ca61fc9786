// Package frame implements the length-prefixed binary frame codec that
// carries every request, response, and callback between a Client and an
// Agent.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// Type identifies the role a frame plays on the wire.
type Type byte

const (
	TypeRequest  Type = 0x01
	TypeResponse Type = 0x02
	TypeCallback Type = 0x03
)

// HeaderSize is the fixed little-endian header length: id(4) + type(1) +
// endpoint length(2) + body length(4).
const HeaderSize = 11

// ErrShort is returned by Decode when buf does not yet hold a complete
// frame. The caller should read more bytes and retry; it is not a
// protocol error.
var ErrShort = errors.New("frame: need more data")

// ErrBadType is returned when the type byte is not one of the three
// known values.
var ErrBadType = errors.New("frame: unknown frame type")

// Frame is a single decoded wire frame.
type Frame struct {
	ID       uint32
	Type     Type
	Endpoint string
	Body     []byte
}

// Encode serialises f into its wire representation.
func Encode(f Frame) []byte {
	out := make([]byte, HeaderSize+len(f.Endpoint)+len(f.Body))
	binary.LittleEndian.PutUint32(out[0:4], f.ID)
	out[4] = byte(f.Type)
	binary.LittleEndian.PutUint16(out[5:7], uint16(len(f.Endpoint)))
	binary.LittleEndian.PutUint32(out[7:11], uint32(len(f.Body)))
	n := HeaderSize
	n += copy(out[n:], f.Endpoint)
	copy(out[n:], f.Body)
	return out
}

// Decode parses one frame from the front of buf. On success it returns
// the frame and the number of bytes consumed. If buf does not yet hold a
// complete frame, it returns ErrShort and the caller must buffer more
// bytes before retrying — Decode never blocks and never mutates buf.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrShort
	}

	id := binary.LittleEndian.Uint32(buf[0:4])
	typ := Type(buf[4])
	if typ != TypeRequest && typ != TypeResponse && typ != TypeCallback {
		return Frame{}, 0, ErrBadType
	}
	endpointLen := int(binary.LittleEndian.Uint16(buf[5:7]))
	bodyLen := int(binary.LittleEndian.Uint32(buf[7:11]))

	total := HeaderSize + endpointLen + bodyLen
	if len(buf) < total {
		return Frame{}, 0, ErrShort
	}

	endpoint := canonicalEndpoint(buf[HeaderSize : HeaderSize+endpointLen])

	body := make([]byte, bodyLen)
	copy(body, buf[HeaderSize+endpointLen:total])

	return Frame{ID: id, Type: typ, Endpoint: endpoint, Body: body}, total, nil
}

// Request builds a request frame with the given id, endpoint and body.
func Request(id uint32, endpoint string, body []byte) Frame {
	return Frame{ID: id, Type: TypeRequest, Endpoint: endpoint, Body: body}
}

// Response builds a response frame correlated to id.
func Response(id uint32, endpoint string, body []byte) Frame {
	return Frame{ID: id, Type: TypeResponse, Endpoint: endpoint, Body: body}
}

// Callback builds an unsolicited callback frame. Callback frames always
// carry id 0 per spec.
func Callback(endpoint string, body []byte) Frame {
	return Frame{ID: 0, Type: TypeCallback, Endpoint: endpoint, Body: body}
}

// ReadFrom reads exactly one frame from a blocking stream, the mode the
// multiplexed transport actually uses: it reads the fixed header first,
// then exactly the announced endpoint+body bytes, never more.
func ReadFrom(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	id := binary.LittleEndian.Uint32(hdr[0:4])
	typ := Type(hdr[4])
	if typ != TypeRequest && typ != TypeResponse && typ != TypeCallback {
		return Frame{}, ErrBadType
	}
	endpointLen := int(binary.LittleEndian.Uint16(hdr[5:7]))
	bodyLen := int(binary.LittleEndian.Uint32(hdr[7:11]))

	rest := make([]byte, endpointLen+bodyLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, err
	}

	endpoint := canonicalEndpoint(rest[:endpointLen])
	body := rest[endpointLen:]
	return Frame{ID: id, Type: typ, Endpoint: endpoint, Body: body}, nil
}

// WriteTo writes f's wire encoding to w.
func WriteTo(w io.Writer, f Frame) error {
	_, err := w.Write(Encode(f))
	return err
}
