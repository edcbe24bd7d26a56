// Package protocol defines the request/response envelope exchanged with remote
// controllers, the error taxonomy carried in responses, and the wire codecs.
package protocol

// UnknownID is the id echoed in responses to requests whose id could not be recovered.
const UnknownID = "unknown"

// Status is the outcome of a request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request is a decoded remote command.
type Request struct {
	ID      string
	Command string
	Params  Params

	// SessionID is the originating session. Set by the dispatcher, never decoded.
	SessionID string
}

// Response is the reply to exactly one Request.
type Response struct {
	ID     string      `json:"id" cbor:"id"`
	Status Status      `json:"status" cbor:"status"`
	Result interface{} `json:"result,omitempty" cbor:"result,omitempty"`
	Error  *Error      `json:"error,omitempty" cbor:"error,omitempty"`
}

// Success builds a success response. A nil result is sent as an empty object.
func Success(id string, result interface{}) *Response {
	if result == nil {
		result = map[string]interface{}{}
	}
	return &Response{ID: responseID(id), Status: StatusSuccess, Result: result}
}

// Failure builds an error response.
func Failure(id string, err *Error) *Response {
	if err == nil {
		err = NewError(KindInternal, "unspecified error")
	}
	return &Response{ID: responseID(id), Status: StatusError, Error: err}
}

// OK reports whether the response carries a result.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

func responseID(id string) string {
	if id == "" {
		return UnknownID
	}
	return id
}

// wireRequest is the encoded form of a Request.
type wireRequest struct {
	ID         string `json:"id,omitempty" cbor:"id,omitempty"`
	Command    string `json:"command" cbor:"command"`
	Parameters Params `json:"parameters" cbor:"parameters"`
}
