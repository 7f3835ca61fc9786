// Package message implements the tagged request/response bodies for
// every wire verb in spec.md §4.3, serialised with the binary codec in
// internal/wire/value — the compact self-describing binary scheme the
// spec calls for, dispatched by verb name and wrapped in an envelope.
package message

import (
	"github.com/agentlink/agentlink/internal/wire/value"
)

// Envelope wraps every response body per spec.md §4.3:
// { is_error, error_message?, error_stack?, data? }.
type Envelope struct {
	IsError      bool
	ErrorMessage string
	ErrorStack   string
	Data         []byte
}

func OK(data []byte) Envelope { return Envelope{Data: data} }

func Err(message, stack string) Envelope {
	return Envelope{IsError: true, ErrorMessage: message, ErrorStack: stack}
}

func EncodeEnvelope(e Envelope) []byte {
	w := value.NewWriter()
	w.WriteBool(e.IsError)
	if e.IsError {
		w.WriteString(e.ErrorMessage)
		w.WriteString(e.ErrorStack)
		return w.Bytes()
	}
	w.WriteBool(e.Data != nil)
	if e.Data != nil {
		w.WriteBlob(e.Data)
	}
	return w.Bytes()
}

func DecodeEnvelope(buf []byte) (Envelope, error) {
	r := value.NewReader(buf)
	isError, err := r.ReadBool()
	if err != nil {
		return Envelope{}, err
	}
	if isError {
		msg, err := r.ReadString()
		if err != nil {
			return Envelope{}, err
		}
		stack, err := r.ReadString()
		if err != nil {
			return Envelope{}, err
		}
		return Err(msg, stack), nil
	}
	hasData, err := r.ReadBool()
	if err != nil {
		return Envelope{}, err
	}
	if !hasData {
		return Envelope{}, nil
	}
	data, err := r.ReadBlob()
	if err != nil {
		return Envelope{}, err
	}
	return OK(data), nil
}
