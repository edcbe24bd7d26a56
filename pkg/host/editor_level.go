package host

import (
	"sort"
)

// Actor types the level editor can spawn.
const (
	ActorStaticMesh       = "StaticMeshActor"
	ActorPointLight       = "PointLight"
	ActorSpotLight        = "SpotLight"
	ActorDirectionalLight = "DirectionalLight"
	ActorCamera           = "CameraActor"
	ActorTextRender       = "TextRenderActor"
	ActorPlayerStart      = "PlayerStart"
)

// ActorTypes lists the spawnable actor types.
var ActorTypes = []string{
	ActorStaticMesh, ActorPointLight, ActorSpotLight, ActorDirectionalLight,
	ActorCamera, ActorTextRender, ActorPlayerStart,
}

// Mobility values.
var Mobilities = []string{"Static", "Stationary", "Movable"}

// actorDefaults are the type-specific properties every new actor starts with.
func actorDefaults(actorType string) map[string]interface{} {
	switch actorType {
	case ActorPointLight, ActorSpotLight, ActorDirectionalLight:
		return map[string]interface{}{"intensity": 5000.0, "light_color": []float64{1, 1, 1}}
	case ActorCamera:
		return map[string]interface{}{"field_of_view": 90.0}
	case ActorTextRender:
		return map[string]interface{}{"text": "", "text_color": []float64{1, 1, 1}}
	case ActorPlayerStart:
		return map[string]interface{}{"player_start_tag": ""}
	}
	return map[string]interface{}{}
}

func copyActor(a *ActorInfo) ActorInfo {
	c := *a
	c.Materials = make(map[int]string, len(a.Materials))
	for k, v := range a.Materials {
		c.Materials[k] = v
	}
	c.Properties = make(map[string]interface{}, len(a.Properties))
	for k, v := range a.Properties {
		if vec, ok := v.([]float64); ok {
			v = append([]float64(nil), vec...)
		}
		c.Properties[k] = v
	}
	return c
}

// SpawnActor places a new actor. Names are unique within the level.
func (e *Editor) SpawnActor(spec ActorSpec) (ActorInfo, error) {
	defer e.guard.enter()()
	if !containsString(ActorTypes, spec.Type) {
		return ActorInfo{}, invalid("unknown actor type %q", spec.Type)
	}
	if spec.Name == "" {
		spec.Name = e.nextID(spec.Type, spec.Type)
	}
	if _, ok := e.actors[spec.Name]; ok {
		return ActorInfo{}, exists("actor", spec.Name)
	}
	if spec.MeshPath != "" {
		if spec.Type != ActorStaticMesh {
			return ActorInfo{}, invalid("%s actors have no mesh", spec.Type)
		}
		mesh, ok := e.resolve(spec.MeshPath)
		if !ok || mesh.info.Kind != KindStaticMesh {
			return ActorInfo{}, notFound("static mesh", spec.MeshPath)
		}
		spec.MeshPath = mesh.info.Path
	}
	if spec.Scale == (Vector{}) {
		spec.Scale = Vector{X: 1, Y: 1, Z: 1}
	}
	mobility := "Movable"
	if spec.Type == ActorStaticMesh {
		mobility = "Static"
	}
	a := &ActorInfo{
		Name:       spec.Name,
		Type:       spec.Type,
		Location:   spec.Location,
		Rotation:   spec.Rotation,
		Scale:      spec.Scale,
		Mobility:   mobility,
		MeshPath:   spec.MeshPath,
		Materials:  make(map[int]string),
		Properties: actorDefaults(spec.Type),
	}
	e.actors[a.Name] = a
	return copyActor(a), nil
}

// DeleteActor removes an actor from the level.
func (e *Editor) DeleteActor(name string) error {
	defer e.guard.enter()()
	if _, ok := e.actors[name]; !ok {
		return notFound("actor", name)
	}
	delete(e.actors, name)
	return nil
}

// Actor returns one actor.
func (e *Editor) Actor(name string) (ActorInfo, error) {
	defer e.guard.enter()()
	a, ok := e.actors[name]
	if !ok {
		return ActorInfo{}, notFound("actor", name)
	}
	return copyActor(a), nil
}

// Actors lists actors sorted by name, optionally only those of actorType.
func (e *Editor) Actors(actorType string) []ActorInfo {
	defer e.guard.enter()()
	out := make([]ActorInfo, 0, len(e.actors))
	for _, a := range e.actors {
		if actorType != "" && a.Type != actorType {
			continue
		}
		out = append(out, copyActor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func vectorValue(v interface{}) (Vector, bool) {
	vec, ok := v.([]float64)
	if !ok || len(vec) != 3 {
		return Vector{}, false
	}
	return Vector{X: vec[0], Y: vec[1], Z: vec[2]}, true
}

// SetActorProperty sets a transform field, hidden, mobility, or one of the
// actor type's own properties. Values keep the type of the current value.
func (e *Editor) SetActorProperty(name, prop string, value interface{}) error {
	defer e.guard.enter()()
	a, ok := e.actors[name]
	if !ok {
		return notFound("actor", name)
	}
	switch prop {
	case "location", "rotation", "scale":
		vec, ok := vectorValue(value)
		if !ok {
			return invalid("%s must be three numbers", prop)
		}
		switch prop {
		case "location":
			a.Location = vec
		case "rotation":
			a.Rotation = vec
		default:
			a.Scale = vec
		}
		return nil
	case "hidden":
		b, ok := value.(bool)
		if !ok {
			return invalid("hidden must be a boolean")
		}
		a.Hidden = b
		return nil
	case "mobility":
		s, _ := value.(string)
		if !containsString(Mobilities, s) {
			return invalid("mobility must be one of %v", Mobilities)
		}
		a.Mobility = s
		return nil
	}

	current, ok := a.Properties[prop]
	if !ok {
		return notFound("property", prop)
	}
	switch cur := current.(type) {
	case float64:
		switch v := value.(type) {
		case float64:
			a.Properties[prop] = v
		case int64:
			a.Properties[prop] = float64(v)
		default:
			return invalid("%s must be a number", prop)
		}
	case string:
		v, ok := value.(string)
		if !ok {
			return invalid("%s must be a string", prop)
		}
		a.Properties[prop] = v
	case []float64:
		v, ok := value.([]float64)
		if !ok || len(v) != len(cur) {
			return invalid("%s must be %d numbers", prop, len(cur))
		}
		a.Properties[prop] = append([]float64(nil), v...)
	}
	return nil
}

// ApplyMaterial assigns a material or material instance to a mesh slot.
func (e *Editor) ApplyMaterial(actor, material string, slot int) error {
	defer e.guard.enter()()
	a, ok := e.actors[actor]
	if !ok {
		return notFound("actor", actor)
	}
	if a.Type != ActorStaticMesh {
		return invalid("%s actors have no material slots", a.Type)
	}
	if slot < 0 || slot >= maxMaterialSlots {
		return invalid("material slot %d out of range 0-%d", slot, maxMaterialSlots-1)
	}
	m, err := e.resolveMaterial(material)
	if err != nil {
		return err
	}
	a.Materials[slot] = m.info.Path
	return nil
}
