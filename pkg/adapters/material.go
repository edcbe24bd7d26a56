package adapters

import (
	"context"
	"sort"
	"strconv"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const materialParamDesc = "Material name or asset path"

var (
	blendModes     = []string{"Opaque", "Masked", "Translucent", "Additive", "Modulate"}
	shadingModels  = []string{"DefaultLit", "Unlit", "SubsurfaceProfile", "ClearCoat", "TwoSidedFoliage"}
	parameterTypes = []string{host.ParamScalar, host.ParamVector, host.ParamTexture}
)

func materialCommands(deps Deps) []registry.Descriptor {
	const kind = host.KindMaterial

	return []registry.Descriptor{
		{
			Name:        "create_material",
			Description: "Create a Material asset",
			Subsystem:   host.SubsystemMaterial,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Asset name, e.g. M_Rock"},
				{Name: "path", Type: registry.TypeString, Default: "/Game/Materials", Description: "Content folder"},
				{Name: "blend_mode", Type: registry.TypeString, Default: "Opaque", Description: "Opaque, Masked, Translucent, Additive or Modulate"},
				{Name: "shading_model", Type: registry.TypeString, Default: "DefaultLit", Description: "Shading model"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := assetName(p, "name"); err != nil {
						return err
					}
					if err := oneOf(p, "blend_mode", blendModes...); err != nil {
						return err
					}
					return oneOf(p, "shading_model", shadingModels...)
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.CreateAsset(kind, joinPath(str(p, "path"), str(p, "name")))
					if err != nil {
						return nil, err
					}
					for _, key := range []string{"blend_mode", "shading_model"} {
						if err := deps.Graphs.SetGraphProperty(kind, info.Path, key, str(p, key)); err != nil {
							return nil, err
						}
					}
					out := assetMap(info)
					out["material_path"] = info.Path
					out["blend_mode"] = str(p, "blend_mode")
					out["shading_model"] = str(p, "shading_model")
					return out, nil
				}),
		},
		{
			Name:        "create_material_instance",
			Description: "Create a material instance of a parent material",
			Subsystem:   host.SubsystemMaterial,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Asset name, e.g. MI_Rock_Wet"},
				{Name: "parent_material", Type: registry.TypeString, Required: true, Description: materialParamDesc},
				{Name: "path", Type: registry.TypeString, Default: "/Game/Materials", Description: "Content folder"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return assetName(p, "name") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Materials.CreateMaterialInstance(str(p, "parent_material"), joinPath(str(p, "path"), str(p, "name")))
					if err != nil {
						return nil, err
					}
					out := assetMap(info)
					out["instance_path"] = info.Path
					out["parent_material"] = str(p, "parent_material")
					return out, nil
				}),
		},
		{
			Name:        "add_material_expression",
			Description: "Add an expression node to a material graph",
			Subsystem:   host.SubsystemMaterial,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "material_path", Type: registry.TypeString, Required: true, Description: materialParamDesc},
				{Name: "expression_type", Type: registry.TypeString, Required: true, Description: "Expression class, e.g. Constant3Vector or TextureSample"},
				{Name: "position", Type: registry.TypeArray, Description: "[x, y] canvas position"},
				{Name: "properties", Type: registry.TypeObject, Description: "Initial expression properties"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := nonEmpty(p, "expression_type"); err != nil {
						return err
					}
					return validatePosition(p, "position")
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					material := str(p, "material_path")
					n, err := deps.Graphs.AddNode(kind, material, str(p, "expression_type"), "", position(p, "position"))
					if err != nil {
						return nil, err
					}
					props, _ := p.Object("properties")
					for _, key := range sortedKeys(props) {
						if err := deps.Graphs.SetNodeProperty(kind, material, n.ID, key, props[key]); err != nil {
							return nil, err
						}
						n.Properties[key] = props[key]
					}
					out := nodeMap(n)
					out["expression_id"] = n.ID
					return out, nil
				}),
		},
		{
			Name:        "connect_material_expressions",
			Description: "Connect an expression output to an input of another expression",
			Subsystem:   host.SubsystemMaterial,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "material_path", Type: registry.TypeString, Required: true, Description: materialParamDesc},
				{Name: "source_expression_id", Type: registry.TypeString, Required: true, Description: "Source expression id"},
				{Name: "source_output_index", Type: registry.TypeInt, Default: int64(0), Description: "Output index on the source"},
				{Name: "target_expression_id", Type: registry.TypeString, Required: true, Description: "Target expression id"},
				{Name: "target_input_name", Type: registry.TypeString, Required: true, Description: "Input on the target, e.g. A or UVs"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return nonNegative(p, "source_output_index") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					link := host.Link{
						SourceNode: str(p, "source_expression_id"),
						SourcePin:  strconv.Itoa(integer(p, "source_output_index")),
						TargetNode: str(p, "target_expression_id"),
						TargetPin:  str(p, "target_input_name"),
					}
					if err := deps.Graphs.Connect(kind, str(p, "material_path"), link); err != nil {
						return nil, err
					}
					out := linkMap(link)
					out["connected"] = true
					return out, nil
				}),
		},
		{
			Name:        "connect_expression_to_material_output",
			Description: "Drive a material property from an expression output",
			Subsystem:   host.SubsystemMaterial,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "material_path", Type: registry.TypeString, Required: true, Description: materialParamDesc},
				{Name: "expression_id", Type: registry.TypeString, Required: true, Description: "Expression id"},
				{Name: "output_index", Type: registry.TypeInt, Default: int64(0), Description: "Output index on the expression"},
				{Name: "material_property", Type: registry.TypeString, Required: true, Description: "BaseColor, Roughness, Normal, ..."},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := nonNegative(p, "output_index"); err != nil {
						return err
					}
					return oneOf(p, "material_property", host.MaterialProperties...)
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					err := deps.Materials.ConnectMaterialOutput(str(p, "material_path"), str(p, "expression_id"),
						integer(p, "output_index"), str(p, "material_property"))
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"expression_id": str(p, "expression_id"),
						"connected_to":  str(p, "material_property"),
					}, nil
				}),
		},
		{
			Name:        "set_material_parameter",
			Description: "Set a scalar, vector or texture parameter on a material or instance",
			Subsystem:   host.SubsystemMaterial,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "material_path", Type: registry.TypeString, Required: true, Description: "Material or instance name or path"},
				{Name: "parameter_name", Type: registry.TypeString, Required: true, Description: "Parameter name"},
				{Name: "parameter_type", Type: registry.TypeString, Required: true, Description: "scalar, vector or texture"},
				{Name: "value", Type: registry.TypeAny, Required: true, Description: "Number, [r, g, b(, a)] or texture path"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := nonEmpty(p, "parameter_name"); err != nil {
						return err
					}
					if err := oneOf(p, "parameter_type", parameterTypes...); err != nil {
						return err
					}
					_, err := parameterValue(p)
					return err
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					value, _ := parameterValue(p)
					param := host.MaterialParameter{Name: str(p, "parameter_name"), Type: str(p, "parameter_type"), Value: value}
					if err := deps.Materials.SetMaterialParameter(str(p, "material_path"), param); err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"parameter_name": param.Name,
						"parameter_type": param.Type,
					}, nil
				}),
		},
		{
			Name:        "get_material_parameters",
			Description: "List the parameters of a material or instance",
			Subsystem:   host.SubsystemMaterial,
			Params: []registry.ParamSpec{
				{Name: "material", Type: registry.TypeString, Required: true, Description: "Material or instance name or path"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				params, err := deps.Materials.MaterialParameters(str(p, "material"))
				if err != nil {
					return nil, err
				}
				list := make([]interface{}, 0, len(params))
				for _, mp := range params {
					list = append(list, parameterMap(mp))
				}
				return map[string]interface{}{
					"material":   str(p, "material"),
					"parameters": list,
					"count":      len(list),
				}, nil
			}),
		},
		{
			Name:        "get_material_metadata",
			Description: "Describe a material's expressions, connections and outputs",
			Subsystem:   host.SubsystemMaterial,
			Params: []registry.ParamSpec{
				{Name: "material_path", Type: registry.TypeString, Required: true, Description: materialParamDesc},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				material := str(p, "material_path")
				desc, err := describeGraph(deps.Graphs, kind, material)
				if err != nil {
					return nil, err
				}
				outputs, err := deps.Materials.MaterialOutputs(material)
				if err != nil {
					return nil, err
				}
				params, err := deps.Materials.MaterialParameters(material)
				if err != nil {
					return nil, err
				}
				out := desc.(map[string]interface{})
				outMap := make(map[string]interface{}, len(outputs))
				for prop, id := range outputs {
					outMap[prop] = id
				}
				out["outputs"] = outMap
				out["parameter_count"] = len(params)
				return out, nil
			}),
		},
	}
}

func nonNegative(p protocol.Params, name string) error {
	if n, ok := p.Int(name); ok && n < 0 {
		return protocol.Errorf(protocol.KindValidation, "%s must not be negative", name).WithDetail("parameter", name)
	}
	return nil
}

// floats converts an array of numbers.
func floats(v interface{}) ([]float64, bool) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(arr))
	for _, c := range arr {
		switch c.(type) {
		case int64, float64:
			out = append(out, number(c))
		default:
			return nil, false
		}
	}
	return out, true
}

// parameterValue checks value against parameter_type and converts it for the host.
func parameterValue(p protocol.Params) (interface{}, error) {
	v, _ := p.Get("value")
	switch str(p, "parameter_type") {
	case host.ParamScalar:
		switch v.(type) {
		case int64, float64:
			return number(v), nil
		}
		return nil, protocol.NewError(protocol.KindValidation, "scalar parameters need a numeric value").WithDetail("parameter", "value")
	case host.ParamVector:
		vec, ok := floats(v)
		if !ok || (len(vec) != 3 && len(vec) != 4) {
			return nil, protocol.NewError(protocol.KindValidation, "vector parameters need [r, g, b] or [r, g, b, a]").WithDetail("parameter", "value")
		}
		return vec, nil
	default:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, protocol.NewError(protocol.KindValidation, "texture parameters need a texture path").WithDetail("parameter", "value")
		}
		return s, nil
	}
}

func parameterMap(mp host.MaterialParameter) map[string]interface{} {
	value := mp.Value
	if vec, ok := value.([]float64); ok {
		value = floatList(vec)
	}
	return map[string]interface{}{
		"name":  mp.Name,
		"type":  mp.Type,
		"value": value,
	}
}

func floatList(in []float64) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, f := range in {
		out = append(out, f)
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
