package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

const logPrefix = "protocol:codec"

const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

var errNotObject = errors.New("parameters must be an object")

// Codec converts between wire frames and envelopes. EncodeResponse is total.
type Codec interface {
	Name() string
	DecodeRequest(data []byte) (*Request, error)
	EncodeRequest(req *Request) ([]byte, error)
	EncodeResponse(resp *Response) []byte
	DecodeResponse(data []byte) (*Response, error)
}

var (
	// JSON is the default codec.
	JSON Codec = jsonCodec{}
	// CBOR encodes envelopes as canonical CBOR maps.
	CBOR Codec = cborCodec{}
)

var (
	cborEnc = mustEncMode()
	cborDec = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("%s - failed to build CBOR encoder: %v", logPrefix, err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("%s - failed to build CBOR decoder: %v", logPrefix, err))
	}
	return dm
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON, nil
	case CodecCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("%s - unknown codec %q", logPrefix, name)
	}
}

// Normalize converts decoded or caller-supplied values to the canonical
// parameter value types.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool, int64, float64, []byte:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	default:
		return t
	}
}

func normalizeUint(u uint64) interface{} {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// renderID converts a decoded id value to its string form.
func renderID(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func encodeFailure(resp *Response, err error) *Response {
	id := UnknownID
	if resp != nil {
		id = resp.ID
	}
	slog.Error(fmt.Sprintf("%s - response %s could not be encoded: %v", logPrefix, id, err))
	return Failure(id, Errorf(KindInternal, "response could not be encoded: %v", err))
}

// --- JSON ---

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) DecodeRequest(data []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{ID: UnknownID, Reason: fmt.Sprintf("malformed document: %v", err)}
	}
	if fields == nil {
		return nil, &DecodeError{ID: UnknownID, Reason: "document must be an object"}
	}

	id := ""
	if raw, ok := fields["id"]; ok {
		var v interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, &DecodeError{ID: UnknownID, Reason: "id must be a string or number"}
		}
		rendered, ok := renderID(v)
		if !ok {
			return nil, &DecodeError{ID: UnknownID, Reason: "id must be a string or number"}
		}
		id = rendered
	}
	recovered := responseID(id)

	rawCmd, ok := fields["command"]
	if !ok {
		rawCmd, ok = fields["type"]
	}
	if !ok {
		return nil, &DecodeError{ID: recovered, Reason: "command is required"}
	}
	var command string
	if err := json.Unmarshal(rawCmd, &command); err != nil {
		return nil, &DecodeError{ID: recovered, Reason: "command must be a string"}
	}
	if command == "" {
		return nil, &DecodeError{ID: recovered, Reason: "command is required"}
	}

	rawParams, ok := fields["parameters"]
	if !ok {
		rawParams = fields["params"]
	}
	var params Params
	if len(rawParams) > 0 && string(bytes.TrimSpace(rawParams)) != "null" {
		p, err := decodeOrderedObject(rawParams)
		if err != nil {
			return nil, &DecodeError{ID: recovered, Reason: errNotObject.Error()}
		}
		params = p
	}

	return &Request{ID: id, Command: command, Params: params}, nil
}

func (jsonCodec) EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(wireRequest{ID: req.ID, Command: req.Command, Parameters: req.Params})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode request: %w", logPrefix, err)
	}
	return data, nil
}

func (jsonCodec) EncodeResponse(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err == nil {
		return data
	}
	data, _ = json.Marshal(encodeFailure(resp, err))
	return data
}

func (jsonCodec) DecodeResponse(data []byte) (*Response, error) {
	var wire struct {
		ID     string          `json:"id"`
		Status Status          `json:"status"`
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%s - failed to decode response: %w", logPrefix, err)
	}
	resp := &Response{ID: wire.ID, Status: wire.Status, Error: wire.Error}
	if len(wire.Result) > 0 {
		var v interface{}
		dec := json.NewDecoder(bytes.NewReader(wire.Result))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%s - failed to decode result: %w", logPrefix, err)
		}
		resp.Result = Normalize(v)
	}
	return resp, nil
}

func decodeOrderedObject(data []byte) (Params, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return Params{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Params{}, errNotObject
	}
	var p Params
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Params{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Params{}, errNotObject
		}
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return Params{}, err
		}
		p.Set(key, Normalize(v))
	}
	if _, err := dec.Token(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// --- CBOR ---

type cborCodec struct{}

func (cborCodec) Name() string { return CodecCBOR }

func (cborCodec) DecodeRequest(data []byte) (*Request, error) {
	var doc map[string]interface{}
	if err := cborDec.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{ID: UnknownID, Reason: fmt.Sprintf("malformed document: %v", err)}
	}
	if doc == nil {
		return nil, &DecodeError{ID: UnknownID, Reason: "document must be an object"}
	}

	id, ok := renderID(doc["id"])
	if !ok {
		return nil, &DecodeError{ID: UnknownID, Reason: "id must be a string or number"}
	}
	recovered := responseID(id)

	rawCmd, ok := doc["command"]
	if !ok {
		rawCmd = doc["type"]
	}
	command, ok := rawCmd.(string)
	if !ok && rawCmd != nil {
		return nil, &DecodeError{ID: recovered, Reason: "command must be a string"}
	}
	if command == "" {
		return nil, &DecodeError{ID: recovered, Reason: "command is required"}
	}

	rawParams, ok := doc["parameters"]
	if !ok {
		rawParams = doc["params"]
	}
	var params Params
	switch p := rawParams.(type) {
	case nil:
	case map[string]interface{}:
		params = ParamsFromMap(p)
	default:
		return nil, &DecodeError{ID: recovered, Reason: errNotObject.Error()}
	}

	return &Request{ID: id, Command: command, Params: params}, nil
}

func (cborCodec) EncodeRequest(req *Request) ([]byte, error) {
	data, err := cborEnc.Marshal(wireRequest{ID: req.ID, Command: req.Command, Parameters: req.Params})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode request: %w", logPrefix, err)
	}
	return data, nil
}

func (cborCodec) EncodeResponse(resp *Response) []byte {
	data, err := cborEnc.Marshal(resp)
	if err == nil {
		return data
	}
	data, _ = cborEnc.Marshal(encodeFailure(resp, err))
	return data
}

func (cborCodec) DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := cborDec.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%s - failed to decode response: %w", logPrefix, err)
	}
	resp.Result = Normalize(resp.Result)
	return &resp, nil
}
