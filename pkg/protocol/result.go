package protocol

import (
	"fmt"
	"reflect"
)

// Blob is a binary payload in a result. JSON carries Data as base64, CBOR as a
// byte string.
type Blob struct {
	MimeType string `json:"mime_type" cbor:"mime_type"`
	Width    int    `json:"width,omitempty" cbor:"width,omitempty"`
	Height   int    `json:"height,omitempty" cbor:"height,omitempty"`
	Data     []byte `json:"data" cbor:"data"`
}

var blobType = reflect.TypeOf(Blob{})

// CheckResult verifies that a handler result only holds values every codec can
// encode: strings, numbers, booleans, nil, string-keyed maps, slices and Blobs.
func CheckResult(v interface{}) error {
	return checkValue(reflect.ValueOf(v), "result")
}

func checkValue(v reflect.Value, path string) error {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return checkValue(v.Elem(), path)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkValue(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%s: map keys must be strings, got %s", path, v.Type().Key())
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := checkValue(iter.Value(), path+"."+iter.Key().String()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		if v.Type() == blobType {
			return nil
		}
		return fmt.Errorf("%s: unsupported struct type %s", path, v.Type())
	default:
		return fmt.Errorf("%s: unsupported value of kind %s", path, v.Kind())
	}
}
