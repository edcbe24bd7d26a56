package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies an error response.
type Kind string

const (
	KindDecode         Kind = "DecodeError"
	KindUnknownCommand Kind = "UnknownCommand"
	KindValidation     Kind = "ValidationError"
	KindHostNotReady   Kind = "HostNotReady"
	KindAdapter        Kind = "AdapterError"
	KindInternal       Kind = "InternalFault"
	KindTimeout        Kind = "Timeout"
	KindDisconnected   Kind = "Disconnected"
)

// Error is the structured error carried in an error response.
type Error struct {
	Kind    Kind                   `json:"kind" cbor:"kind"`
	Message string                 `json:"message" cbor:"message"`
	Details map[string]interface{} `json:"details,omitempty" cbor:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail entry and returns the same error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether err carries a protocol error of the given kind.
func IsKind(err error, kind Kind) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == kind
}

// DecodeError is returned by codecs for frames that are not valid requests.
// ID holds whatever id could be recovered from the frame.
type DecodeError struct {
	ID     string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %s", e.Reason)
}

// Response builds the error response sent back for the undecodable frame.
func (e *DecodeError) Response() *Response {
	return Failure(e.ID, NewError(KindDecode, e.Reason))
}
