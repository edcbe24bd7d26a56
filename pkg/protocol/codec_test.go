package protocol

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestJSONDecodeRequest(t *testing.T) {
	req, err := JSON.DecodeRequest([]byte(`{"id":"r1","command":"create_node","parameters":{"type":"Add","graph":"BP_Test","pos":[1,2.5]}}`))
	if err != nil {
		t.Fatalf("protocol:codec_test - unexpected error: %v", err)
	}
	if req.ID != "r1" || req.Command != "create_node" {
		t.Errorf("protocol:codec_test - got id=%q command=%q", req.ID, req.Command)
	}
	if got := req.Params.Keys(); !reflect.DeepEqual(got, []string{"type", "graph", "pos"}) {
		t.Errorf("protocol:codec_test - parameter order = %v", got)
	}
	pos, _ := req.Params.Slice("pos")
	if !reflect.DeepEqual(pos, []interface{}{int64(1), 2.5}) {
		t.Errorf("protocol:codec_test - pos = %#v", pos)
	}
}

func TestJSONDecodeRequest_LegacyAliases(t *testing.T) {
	req, err := JSON.DecodeRequest([]byte(`{"type":"ping","params":{"a":1}}`))
	if err != nil {
		t.Fatalf("protocol:codec_test - unexpected error: %v", err)
	}
	if req.Command != "ping" || req.ID != "" {
		t.Errorf("protocol:codec_test - got command=%q id=%q", req.Command, req.ID)
	}
	if v, ok := req.Params.Int("a"); !ok || v != 1 {
		t.Errorf("protocol:codec_test - a = %v (%v)", v, ok)
	}
}

func TestJSONDecodeRequest_NumericID(t *testing.T) {
	req, err := JSON.DecodeRequest([]byte(`{"id":42,"command":"ping"}`))
	if err != nil {
		t.Fatalf("protocol:codec_test - unexpected error: %v", err)
	}
	if req.ID != "42" {
		t.Errorf("protocol:codec_test - id = %q, want 42", req.ID)
	}
	if req.Params.Len() != 0 {
		t.Errorf("protocol:codec_test - expected empty params, got %d", req.Params.Len())
	}
}

func TestJSONDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		wantID string
		reason string
	}{
		{"truncated", `{"id":"x","command":"pi`, UnknownID, "malformed"},
		{"not object", `[1,2]`, UnknownID, "malformed"},
		{"null", `null`, UnknownID, "object"},
		{"missing command", `{"id":"a1"}`, "a1", "command is required"},
		{"empty command", `{"id":"a2","command":""}`, "a2", "command is required"},
		{"command not string", `{"id":"a3","command":5}`, "a3", "command must be a string"},
		{"params not object", `{"id":"a4","command":"ping","parameters":[1]}`, "a4", "parameters must be an object"},
		{"bad id", `{"id":{"x":1},"command":"ping"}`, UnknownID, "id must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSON.DecodeRequest([]byte(tt.frame))
			de, ok := err.(*DecodeError)
			if !ok {
				t.Fatalf("protocol:codec_test - expected *DecodeError, got %T (%v)", err, err)
			}
			if de.ID != tt.wantID {
				t.Errorf("protocol:codec_test - id = %q, want %q", de.ID, tt.wantID)
			}
			if !strings.Contains(de.Reason, tt.reason) {
				t.Errorf("protocol:codec_test - reason %q does not contain %q", de.Reason, tt.reason)
			}
			resp := de.Response()
			if resp.Status != StatusError || resp.Error.Kind != KindDecode {
				t.Errorf("protocol:codec_test - unexpected response %+v", resp)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	frames := map[string]Codec{
		`{"id":"7","command":"set_property","parameters":{"node":"n1","prop":"A","val":1,"nested":{"k":[true,null,"s"]}}}`: JSON,
	}
	for frame, codec := range frames {
		req, err := codec.DecodeRequest([]byte(frame))
		if err != nil {
			t.Fatalf("protocol:codec_test - decode: %v", err)
		}
		for _, c := range []Codec{JSON, CBOR} {
			data, err := c.EncodeRequest(req)
			if err != nil {
				t.Fatalf("protocol:codec_test - %s encode: %v", c.Name(), err)
			}
			again, err := c.DecodeRequest(data)
			if err != nil {
				t.Fatalf("protocol:codec_test - %s re-decode: %v", c.Name(), err)
			}
			if again.ID != req.ID || again.Command != req.Command {
				t.Errorf("protocol:codec_test - %s header mismatch: %+v", c.Name(), again)
			}
			if !reflect.DeepEqual(again.Params.Map(), req.Params.Map()) {
				t.Errorf("protocol:codec_test - %s params mismatch:\n got  %#v\n want %#v", c.Name(), again.Params.Map(), req.Params.Map())
			}
		}
	}
}

func TestEncodeResponse_JSON(t *testing.T) {
	data := JSON.EncodeResponse(Success("r1", map[string]interface{}{"node_id": "K2Node_Add_1"}))
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("protocol:codec_test - invalid JSON: %v", err)
	}
	if doc["id"] != "r1" || doc["status"] != "success" {
		t.Errorf("protocol:codec_test - unexpected envelope %v", doc)
	}
	if _, hasErr := doc["error"]; hasErr {
		t.Error("protocol:codec_test - success response must not carry error")
	}
}

func TestEncodeResponse_Blob(t *testing.T) {
	blob := &Blob{MimeType: "image/png", Width: 1, Height: 1, Data: []byte{0x89, 'P', 'N', 'G'}}
	resp := Success("b1", map[string]interface{}{"image": blob})
	for _, c := range []Codec{JSON, CBOR} {
		decoded, err := c.DecodeResponse(c.EncodeResponse(resp))
		if err != nil {
			t.Fatalf("protocol:codec_test - %s decode: %v", c.Name(), err)
		}
		if decoded.ID != "b1" || !decoded.OK() {
			t.Errorf("protocol:codec_test - %s unexpected response %+v", c.Name(), decoded)
		}
	}
}

func TestEncodeResponse_IsTotal(t *testing.T) {
	resp := Success("bad", map[string]interface{}{"v": math.Inf(1)})
	data := JSON.EncodeResponse(resp)
	decoded, err := JSON.DecodeResponse(data)
	if err != nil {
		t.Fatalf("protocol:codec_test - fallback must decode: %v", err)
	}
	if decoded.ID != "bad" || decoded.Error == nil || decoded.Error.Kind != KindInternal {
		t.Errorf("protocol:codec_test - expected InternalFault for same id, got %+v", decoded)
	}
}

func TestFailure_EmptyIDBecomesUnknown(t *testing.T) {
	resp := Failure("", NewError(KindValidation, "x"))
	if resp.ID != UnknownID {
		t.Errorf("protocol:codec_test - id = %q, want %q", resp.ID, UnknownID)
	}
}

func TestCBORDecodeRequest_NumericID(t *testing.T) {
	data, err := cborEnc.Marshal(map[string]interface{}{"id": 9, "type": "ping", "params": map[string]interface{}{"n": 3}})
	if err != nil {
		t.Fatalf("protocol:codec_test - marshal: %v", err)
	}
	req, err := CBOR.DecodeRequest(data)
	if err != nil {
		t.Fatalf("protocol:codec_test - decode: %v", err)
	}
	if req.ID != "9" || req.Command != "ping" {
		t.Errorf("protocol:codec_test - got %+v", req)
	}
	if n, ok := req.Params.Int("n"); !ok || n != 3 {
		t.Errorf("protocol:codec_test - n = %v (%v)", n, ok)
	}
}

func TestNewCodec(t *testing.T) {
	for _, name := range []string{"", "json", "cbor"} {
		if _, err := NewCodec(name); err != nil {
			t.Errorf("protocol:codec_test - NewCodec(%q): %v", name, err)
		}
	}
	if _, err := NewCodec("xml"); err == nil {
		t.Error("protocol:codec_test - expected error for unknown codec")
	}
}

func TestCheckResult(t *testing.T) {
	ok := []interface{}{
		nil,
		"s",
		map[string]interface{}{"a": []interface{}{1, 2.0, true, nil}},
		map[string]string{"x": "y"},
		[]map[string]interface{}{{"n": int64(1)}},
		&Blob{MimeType: "image/png"},
	}
	for i, v := range ok {
		if err := CheckResult(v); err != nil {
			t.Errorf("protocol:codec_test - case %d: unexpected error %v", i, err)
		}
	}
	bad := []interface{}{
		map[int]string{1: "x"},
		struct{ A int }{1},
		map[string]interface{}{"ch": make(chan int)},
	}
	for i, v := range bad {
		if err := CheckResult(v); err == nil {
			t.Errorf("protocol:codec_test - bad case %d: expected error", i)
		}
	}
}
