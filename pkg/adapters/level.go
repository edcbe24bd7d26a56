package adapters

import (
	"context"
	"fmt"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

func actorSpecs() []registry.ParamSpec {
	return []registry.ParamSpec{
		{Name: "name", Type: registry.TypeString, Required: true, Description: "Unique actor name"},
		{Name: "type", Type: registry.TypeString, Required: true, Description: "StaticMeshActor, PointLight, SpotLight, DirectionalLight, CameraActor, TextRenderActor or PlayerStart"},
		{Name: "location", Type: registry.TypeArray, Description: "[x, y, z]"},
		{Name: "rotation", Type: registry.TypeArray, Description: "[pitch, yaw, roll] in degrees"},
		{Name: "scale", Type: registry.TypeArray, Description: "[x, y, z], default [1, 1, 1]"},
		{Name: "mesh_path", Type: registry.TypeString, Description: "Static mesh asset for StaticMeshActor"},
	}
}

func levelCommands(deps Deps) []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:        "spawn_actor",
			Description: "Spawn an actor in the open level",
			Subsystem:   host.SubsystemLevel,
			Mutates:     true,
			Params:      actorSpecs(),
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return validateActor(p.Map()) },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					a, err := deps.Level.SpawnActor(actorSpec(p.Map()))
					if err != nil {
						return nil, err
					}
					return actorMap(a), nil
				}),
		},
		{
			Name:        "batch_spawn_actors",
			Description: "Spawn several actors; each is attempted and reported separately",
			Subsystem:   host.SubsystemLevel,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "actors", Type: registry.TypeArray, Required: true, Description: "Objects with the spawn_actor parameters"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					entries, _ := p.Slice("actors")
					if len(entries) == 0 {
						return protocol.NewError(protocol.KindValidation, "actors must not be empty")
					}
					for i, e := range entries {
						if _, ok := e.(map[string]interface{}); !ok {
							return protocol.Errorf(protocol.KindValidation, "actors[%d] must be an object", i)
						}
					}
					return nil
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					entries, _ := p.Slice("actors")
					results := make([]interface{}, 0, len(entries))
					succeeded := 0
					for _, e := range entries {
						m := e.(map[string]interface{})
						name, _ := m["name"].(string)
						res := map[string]interface{}{"name": name}
						if err := validateActor(m); err != nil {
							res["success"] = false
							res["error"] = err.Error()
							results = append(results, res)
							continue
						}
						a, err := deps.Level.SpawnActor(actorSpec(m))
						if err != nil {
							res["success"] = false
							res["error"] = err.Error()
						} else {
							res["success"] = true
							res["actor"] = actorMap(a)
							succeeded++
						}
						results = append(results, res)
					}
					return map[string]interface{}{
						"results":   results,
						"total":     len(entries),
						"succeeded": succeeded,
						"failed":    len(entries) - succeeded,
					}, nil
				}),
		},
		{
			Name:        "batch_delete_actors",
			Description: "Delete actors by name; each is attempted and reported separately",
			Subsystem:   host.SubsystemLevel,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "names", Type: registry.TypeArray, Required: true, Description: "Actor names"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					names, _ := p.Slice("names")
					if len(names) == 0 {
						return protocol.NewError(protocol.KindValidation, "names must not be empty")
					}
					for i, n := range names {
						if s, ok := n.(string); !ok || s == "" {
							return protocol.Errorf(protocol.KindValidation, "names[%d] must be a non-empty string", i)
						}
					}
					return nil
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					names, _ := p.Slice("names")
					results := make([]interface{}, 0, len(names))
					deleted := 0
					for _, n := range names {
						name := n.(string)
						res := map[string]interface{}{"name": name, "deleted": false}
						if err := deps.Level.DeleteActor(name); err != nil {
							res["error"] = err.Error()
						} else {
							res["deleted"] = true
							deleted++
						}
						results = append(results, res)
					}
					return map[string]interface{}{
						"results":   results,
						"total":     len(names),
						"succeeded": deleted,
						"failed":    len(names) - deleted,
					}, nil
				}),
		},
		{
			Name:        "set_actor_property",
			Description: "Set a transform field, hidden, mobility or a type-specific property on an actor",
			Subsystem:   host.SubsystemLevel,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Actor name"},
				{Name: "property_name", Type: registry.TypeString, Required: true, Description: "e.g. location, hidden, intensity"},
				{Name: "property_value", Type: registry.TypeAny, Required: true, Description: "New value"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return nonEmpty(p, "name", "property_name") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					v, _ := p.Get("property_value")
					if vec, ok := floats(v); ok {
						v = vec
					}
					if err := deps.Level.SetActorProperty(str(p, "name"), str(p, "property_name"), v); err != nil {
						return nil, err
					}
					a, err := deps.Level.Actor(str(p, "name"))
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"actor_name":    a.Name,
						"property_name": str(p, "property_name"),
						"actor":         actorMap(a),
					}, nil
				}),
		},
		{
			Name:        "get_actor_properties",
			Description: "Describe an actor",
			Subsystem:   host.SubsystemLevel,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Actor name"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				a, err := deps.Level.Actor(str(p, "name"))
				if err != nil {
					return nil, err
				}
				return actorMap(a), nil
			}),
		},
		{
			Name:        "get_level_metadata",
			Description: "List the actors in the open level",
			Subsystem:   host.SubsystemLevel,
			Params: []registry.ParamSpec{
				{Name: "actor_type", Type: registry.TypeString, Description: "Only actors of this type"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				actors := deps.Level.Actors(str(p, "actor_type"))
				list := make([]interface{}, 0, len(actors))
				for _, a := range actors {
					list = append(list, map[string]interface{}{
						"name":     a.Name,
						"type":     a.Type,
						"location": vectorSlice(a.Location),
					})
				}
				return map[string]interface{}{"actors": list, "count": len(list)}, nil
			}),
		},
		{
			Name:        "apply_material_to_actor",
			Description: "Assign a material or material instance to a mesh slot",
			Subsystem:   host.SubsystemLevel,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "actor_name", Type: registry.TypeString, Required: true, Description: "Actor name"},
				{Name: "material_path", Type: registry.TypeString, Required: true, Description: "Material or instance name or path"},
				{Name: "slot_index", Type: registry.TypeInt, Default: int64(0), Description: "Material slot"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return nonNegative(p, "slot_index") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					if err := deps.Level.ApplyMaterial(str(p, "actor_name"), str(p, "material_path"), integer(p, "slot_index")); err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"actor_name":    str(p, "actor_name"),
						"material_path": str(p, "material_path"),
						"slot_index":    integer(p, "slot_index"),
					}, nil
				}),
		},
	}
}

// validateActor checks one spawn request, given as a parameter map.
func validateActor(m map[string]interface{}) error {
	name, _ := m["name"].(string)
	if name == "" {
		return protocol.NewError(protocol.KindValidation, "name must be a non-empty string").WithDetail("parameter", "name")
	}
	actorType, _ := m["type"].(string)
	if !contains(host.ActorTypes, actorType) {
		return protocol.Errorf(protocol.KindValidation, "type must be one of %v, got %q", host.ActorTypes, actorType).
			WithDetail("parameter", "type")
	}
	for _, key := range []string{"location", "rotation", "scale"} {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if vec, ok := floats(v); !ok || len(vec) != 3 {
			return protocol.Errorf(protocol.KindValidation, "%s must be an [x, y, z] array", key).WithDetail("parameter", key)
		}
	}
	if mesh, ok := m["mesh_path"]; ok && mesh != nil {
		if _, ok := mesh.(string); !ok {
			return protocol.NewError(protocol.KindValidation, "mesh_path must be a string").WithDetail("parameter", "mesh_path")
		}
	}
	return nil
}

func actorSpec(m map[string]interface{}) host.ActorSpec {
	spec := host.ActorSpec{}
	spec.Name, _ = m["name"].(string)
	spec.Type, _ = m["type"].(string)
	spec.MeshPath, _ = m["mesh_path"].(string)
	spec.Location = vectorOf(m["location"])
	spec.Rotation = vectorOf(m["rotation"])
	spec.Scale = vectorOf(m["scale"])
	return spec
}

func vectorOf(v interface{}) host.Vector {
	vec, ok := floats(v)
	if !ok || len(vec) != 3 {
		return host.Vector{}
	}
	return host.Vector{X: vec[0], Y: vec[1], Z: vec[2]}
}

func vectorSlice(v host.Vector) []interface{} {
	return []interface{}{v.X, v.Y, v.Z}
}

func actorMap(a host.ActorInfo) map[string]interface{} {
	props := make(map[string]interface{}, len(a.Properties))
	for k, v := range a.Properties {
		if vec, ok := v.([]float64); ok {
			v = floatList(vec)
		}
		props[k] = v
	}
	materials := make(map[string]interface{}, len(a.Materials))
	for slot, m := range a.Materials {
		materials[fmt.Sprint(slot)] = m
	}
	return map[string]interface{}{
		"name":       a.Name,
		"type":       a.Type,
		"location":   vectorSlice(a.Location),
		"rotation":   vectorSlice(a.Rotation),
		"scale":      vectorSlice(a.Scale),
		"hidden":     a.Hidden,
		"mobility":   a.Mobility,
		"mesh_path":  a.MeshPath,
		"materials":  materials,
		"properties": props,
	}
}
