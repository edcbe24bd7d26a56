package registry

import (
	"github.com/morezero/editor-bridge/pkg/protocol"
)

// Bind checks params against the descriptor's schema and returns a copy with
// defaults filled in. Failures are ValidationError protocol errors.
func (d *Descriptor) Bind(params protocol.Params) (protocol.Params, error) {
	bound := params.Clone()

	for _, spec := range d.Params {
		v, present := params.Get(spec.Name)
		if !present || v == nil {
			if spec.Required {
				return protocol.Params{}, protocol.Errorf(protocol.KindValidation,
					"missing required parameter %q", spec.Name).WithDetail("parameter", spec.Name)
			}
			if spec.Default != nil {
				bound.Set(spec.Name, protocol.Normalize(spec.Default))
			}
			continue
		}
		if !matches(spec.Type, v) {
			return protocol.Params{}, protocol.Errorf(protocol.KindValidation,
				"parameter %q must be of type %s, got %s", spec.Name, spec.Type, describe(v)).
				WithDetail("parameter", spec.Name).
				WithDetail("expected", string(spec.Type))
		}
		if spec.Type == TypeInt {
			if f, ok := v.(float64); ok {
				bound.Set(spec.Name, int64(f))
			}
		}
	}

	if d.Strict {
		for _, name := range params.Keys() {
			if _, ok := d.Param(name); !ok {
				return protocol.Params{}, protocol.Errorf(protocol.KindValidation,
					"unknown parameter %q", name).WithDetail("parameter", name)
			}
		}
	}

	return bound, nil
}

func matches(t ParamType, v interface{}) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeInt:
		switch n := v.(type) {
		case int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case TypeNumber:
		switch v.(type) {
		case int64, float64:
			return true
		}
		return false
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	}
	return false
}

func describe(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	case nil:
		return "null"
	}
	return "unknown"
}
