package host

import (
	"sort"
)

// MaterialProperties are the material output pins an expression can drive.
var MaterialProperties = []string{
	"BaseColor", "Metallic", "Specular", "Roughness", "EmissiveColor",
	"Opacity", "OpacityMask", "Normal", "AmbientOcclusion",
}

const maxMaterialSlots = 8

// resolveMaterial finds a material or material instance.
func (e *Editor) resolveMaterial(ref string) (*asset, error) {
	a, ok := e.resolve(ref)
	if !ok || (a.info.Kind != KindMaterial && a.info.Kind != KindMaterialInstance) {
		return nil, notFound("material", ref)
	}
	return a, nil
}

// CreateMaterialInstance creates an instance of a material at path.
func (e *Editor) CreateMaterialInstance(parent, p string) (AssetInfo, error) {
	defer e.guard.enter()()
	base, err := e.resolveMaterial(parent)
	if err != nil {
		return AssetInfo{}, err
	}
	a, err := e.create(KindMaterialInstance, p)
	if err != nil {
		return AssetInfo{}, err
	}
	a.props["parent"] = base.info.Path
	return a.info, nil
}

func (e *Editor) checkParameter(param MaterialParameter) (MaterialParameter, error) {
	if param.Name == "" {
		return param, invalid("parameter name is required")
	}
	switch param.Type {
	case ParamScalar:
		switch v := param.Value.(type) {
		case int64:
			param.Value = float64(v)
		case float64:
		default:
			return param, invalid("scalar parameter %q needs a number", param.Name)
		}
	case ParamVector:
		v, ok := param.Value.([]float64)
		if !ok || (len(v) != 3 && len(v) != 4) {
			return param, invalid("vector parameter %q needs 3 or 4 components", param.Name)
		}
		param.Value = append([]float64(nil), v...)
	case ParamTexture:
		ref, _ := param.Value.(string)
		tex, ok := e.resolve(ref)
		if !ok || (tex.info.Kind != KindTexture && tex.info.Kind != KindRenderTarget) {
			return param, notFound("texture", ref)
		}
		param.Value = tex.info.Path
	default:
		return param, invalid("unknown parameter type %q", param.Type)
	}
	return param, nil
}

// SetMaterialParameter adds or replaces a parameter. On an instance it
// overrides the parent's value.
func (e *Editor) SetMaterialParameter(material string, param MaterialParameter) error {
	defer e.guard.enter()()
	a, err := e.resolveMaterial(material)
	if err != nil {
		return err
	}
	param, err = e.checkParameter(param)
	if err != nil {
		return err
	}
	for i, existing := range a.params {
		if existing.Name == param.Name {
			if existing.Type != param.Type {
				return invalid("parameter %q is a %s parameter, not %s", param.Name, existing.Type, param.Type)
			}
			a.params[i] = param
			a.info.Dirty = true
			return nil
		}
	}
	a.params = append(a.params, param)
	a.info.Dirty = true
	return nil
}

// MaterialParameters returns the parameters sorted by name. Instances report
// their parent's parameters with their own overrides applied.
func (e *Editor) MaterialParameters(material string) ([]MaterialParameter, error) {
	defer e.guard.enter()()
	a, err := e.resolveMaterial(material)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]MaterialParameter)
	if parent, ok := a.props["parent"].(string); ok {
		if base, ok := e.assets[parent]; ok {
			for _, p := range base.params {
				merged[p.Name] = p
			}
		}
	}
	for _, p := range a.params {
		merged[p.Name] = p
	}
	out := make([]MaterialParameter, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ConnectMaterialOutput drives a material property from an expression output.
func (e *Editor) ConnectMaterialOutput(material, expressionID string, outputIndex int, property string) error {
	defer e.guard.enter()()
	a, g, err := e.graphOf(KindMaterial, material)
	if err != nil {
		return err
	}
	if !containsString(MaterialProperties, property) {
		return invalid("unknown material property %q", property)
	}
	if outputIndex < 0 {
		return invalid("output index %d out of range", outputIndex)
	}
	if _, err := g.node(expressionID); err != nil {
		return err
	}
	if a.outputs == nil {
		a.outputs = make(map[string]string)
	}
	a.outputs[property] = expressionID
	a.info.Dirty = true
	return nil
}

// MaterialOutputs maps material properties to the expressions driving them.
// Outputs whose expression was removed are dropped.
func (e *Editor) MaterialOutputs(material string) (map[string]string, error) {
	defer e.guard.enter()()
	a, g, err := e.graphOf(KindMaterial, material)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(a.outputs))
	for prop, id := range a.outputs {
		if _, ok := g.nodes[id]; ok {
			out[prop] = id
		}
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
