package registry

// ParamSummary is the wire form of a ParamSpec.
type ParamSummary struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// CommandSummary is the wire form of a Descriptor, used by list_commands and
// the status pages.
type CommandSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Subsystem   string         `json:"subsystem"`
	Mutates     bool           `json:"mutates"`
	Ordering    string         `json:"ordering"`
	ThreadSafe  bool           `json:"thread_safe"`
	Atomic      bool           `json:"atomic"`
	Requires    string         `json:"requires,omitempty"`
	Params      []ParamSummary `json:"params"`
}

// Summary describes the command.
func (d *Descriptor) Summary() CommandSummary {
	params := make([]ParamSummary, 0, len(d.Params))
	for _, p := range d.Params {
		params = append(params, ParamSummary{
			Name:        p.Name,
			Type:        string(p.Type),
			Required:    p.Required,
			Default:     p.Default,
			Description: p.Description,
		})
	}
	return CommandSummary{
		Name:        d.Name,
		Description: d.Description,
		Subsystem:   d.Subsystem,
		Mutates:     d.Mutates,
		Ordering:    string(d.Ordering),
		ThreadSafe:  d.ThreadSafe,
		Atomic:      d.Atomic,
		Requires:    d.Requires,
		Params:      params,
	}
}

// Map renders the summary with plain maps and slices so it can be returned
// as a command result.
func (s CommandSummary) Map() map[string]interface{} {
	params := make([]interface{}, 0, len(s.Params))
	for _, p := range s.Params {
		entry := map[string]interface{}{
			"name":     p.Name,
			"type":     p.Type,
			"required": p.Required,
		}
		if p.Default != nil {
			entry["default"] = p.Default
		}
		if p.Description != "" {
			entry["description"] = p.Description
		}
		params = append(params, entry)
	}
	out := map[string]interface{}{
		"name":        s.Name,
		"description": s.Description,
		"subsystem":   s.Subsystem,
		"mutates":     s.Mutates,
		"ordering":    s.Ordering,
		"thread_safe": s.ThreadSafe,
		"atomic":      s.Atomic,
		"params":      params,
	}
	if s.Requires != "" {
		out["requires"] = s.Requires
	}
	return out
}

// InputSchema builds a JSON Schema object for the command's parameters.
func (d *Descriptor) InputSchema() map[string]interface{} {
	return SchemaFromParams(d.Params, d.Strict)
}

// SchemaFromParams builds a JSON Schema object for a parameter list.
func SchemaFromParams(params []ParamSpec, strict bool) map[string]interface{} {
	props := make(map[string]interface{}, len(params))
	required := make([]interface{}, 0)
	for _, p := range params {
		prop := map[string]interface{}{}
		if t := jsonSchemaType(p.Type); t != "" {
			prop["type"] = t
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	if strict {
		schema["additionalProperties"] = false
	}
	return schema
}

func jsonSchemaType(t ParamType) string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	}
	return ""
}
