package host

import (
	"hash/fnv"
	"image"
	"image/color"
	"strings"
)

// Emitter stack stages.
const (
	StageSpawn  = "Spawn"
	StageUpdate = "Update"
)

// Transition types. Only GotoState needs a target.
const (
	TransitionGotoState = "GotoState"
	TransitionNextState = "NextState"
	TransitionSucceeded = "Succeeded"
	TransitionFailed    = "Failed"
)

const maxCaptureSize = 4096

type emitter struct {
	name     string
	template string
	modules  []*ModuleInfo
}

func (em *emitter) module(name string) (*ModuleInfo, error) {
	for _, m := range em.modules {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, notFound("module", name)
}

func (a *asset) emitter(name string) (*emitter, error) {
	for _, em := range a.emitters {
		if em.name == name {
			return em, nil
		}
	}
	return nil, notFound("emitter", name)
}

// AddEmitter appends an emitter and returns its index.
func (e *Editor) AddEmitter(system, name, template string) (int, error) {
	defer e.guard.enter()()
	if name == "" {
		return 0, invalid("emitter name is required")
	}
	a, err := e.resolveKind(KindNiagaraSystem, system)
	if err != nil {
		return 0, err
	}
	if _, err := a.emitter(name); err == nil {
		return 0, exists("emitter", name)
	}
	a.emitters = append(a.emitters, &emitter{name: name, template: template})
	a.info.Dirty = true
	return len(a.emitters) - 1, nil
}

// AddModule appends a module to an emitter stage and returns its index within that stage.
func (e *Editor) AddModule(system, emitterName, module, stage string) (int, error) {
	defer e.guard.enter()()
	if stage != StageSpawn && stage != StageUpdate {
		return 0, invalid("stage must be %s or %s, got %q", StageSpawn, StageUpdate, stage)
	}
	if module == "" {
		return 0, invalid("module name is required")
	}
	a, err := e.resolveKind(KindNiagaraSystem, system)
	if err != nil {
		return 0, err
	}
	em, err := a.emitter(emitterName)
	if err != nil {
		return 0, err
	}
	if _, err := em.module(module); err == nil {
		return 0, exists("module", module)
	}
	index := 0
	for _, m := range em.modules {
		if m.Stage == stage {
			index++
		}
	}
	em.modules = append(em.modules, &ModuleInfo{Name: module, Stage: stage, Inputs: make(map[string]interface{})})
	a.info.Dirty = true
	return index, nil
}

// SetModuleInput sets an input value on a module.
func (e *Editor) SetModuleInput(system, emitterName, module, input string, value interface{}) error {
	defer e.guard.enter()()
	if input == "" {
		return invalid("input name is required")
	}
	a, err := e.resolveKind(KindNiagaraSystem, system)
	if err != nil {
		return err
	}
	em, err := a.emitter(emitterName)
	if err != nil {
		return err
	}
	m, err := em.module(module)
	if err != nil {
		return err
	}
	m.Inputs[input] = value
	a.info.Dirty = true
	return nil
}

// Emitters lists the emitters of a system.
func (e *Editor) Emitters(system string) ([]EmitterInfo, error) {
	defer e.guard.enter()()
	a, err := e.resolveKind(KindNiagaraSystem, system)
	if err != nil {
		return nil, err
	}
	out := make([]EmitterInfo, 0, len(a.emitters))
	for _, em := range a.emitters {
		info := EmitterInfo{Name: em.name, Template: em.template}
		for _, m := range em.modules {
			inputs := make(map[string]interface{}, len(m.Inputs))
			for k, v := range m.Inputs {
				inputs[k] = v
			}
			info.Modules = append(info.Modules, ModuleInfo{Name: m.Name, Stage: m.Stage, Inputs: inputs})
		}
		out = append(out, info)
	}
	return out, nil
}

func (a *asset) hasState(name string) bool {
	for _, s := range a.states {
		if s.Name == name {
			return true
		}
	}
	return false
}

// AddState adds a state, optionally under a parent.
func (e *Editor) AddState(tree string, state StateInfo) error {
	defer e.guard.enter()()
	if state.Name == "" {
		return invalid("state name is required")
	}
	a, err := e.resolveKind(KindStateTree, tree)
	if err != nil {
		return err
	}
	if a.hasState(state.Name) {
		return exists("state", state.Name)
	}
	if state.Parent != "" && !a.hasState(state.Parent) {
		return notFound("parent state", state.Parent)
	}
	if state.Type == "" {
		state.Type = "State"
	}
	a.states = append(a.states, state)
	a.info.Dirty = true
	return nil
}

// AddTransition adds a transition out of a state.
func (e *Editor) AddTransition(tree string, t Transition) error {
	defer e.guard.enter()()
	a, err := e.resolveKind(KindStateTree, tree)
	if err != nil {
		return err
	}
	if !a.hasState(t.Source) {
		return notFound("state", t.Source)
	}
	if t.Type == "" {
		t.Type = TransitionGotoState
	}
	switch t.Type {
	case TransitionGotoState:
		if t.Target == "" {
			return invalid("%s transitions need a target state", TransitionGotoState)
		}
		if !a.hasState(t.Target) {
			return notFound("state", t.Target)
		}
	case TransitionNextState, TransitionSucceeded, TransitionFailed:
	default:
		return invalid("unknown transition type %q", t.Type)
	}
	a.transitions = append(a.transitions, t)
	a.info.Dirty = true
	return nil
}

// States lists a tree's states in creation order.
func (e *Editor) States(tree string) ([]StateInfo, error) {
	defer e.guard.enter()()
	a, err := e.resolveKind(KindStateTree, tree)
	if err != nil {
		return nil, err
	}
	return append([]StateInfo(nil), a.states...), nil
}

// ExecuteGraph runs a procedural graph. Sampler nodes generate points
// according to their point_count property (default 100).
func (e *Editor) ExecuteGraph(graph string) (ExecutionReport, error) {
	defer e.guard.enter()()
	a, g, err := e.graphOf(KindPCGGraph, graph)
	if err != nil {
		return ExecutionReport{}, err
	}
	if len(g.order) == 0 {
		return ExecutionReport{}, invalid("pcg graph %q has no nodes", graph)
	}
	report := ExecutionReport{Nodes: len(g.order)}
	for _, id := range g.order {
		n := g.nodes[id]
		if !strings.Contains(n.Type, "Sampler") {
			continue
		}
		count := 100
		switch v := n.Properties["point_count"].(type) {
		case int64:
			count = int(v)
		case float64:
			count = int(v)
		}
		report.PointsGenerated += count
	}
	a.props["last_points_generated"] = int64(report.PointsGenerated)
	return report, nil
}

// ReadPixels renders a deterministic preview for an asset.
func (e *Editor) ReadPixels(ref string, width, height int) (*image.RGBA, error) {
	defer e.guard.enter()()
	if width <= 0 || height <= 0 || width > maxCaptureSize || height > maxCaptureSize {
		return nil, invalid("capture size %dx%d out of range", width, height)
	}
	a, ok := e.resolve(ref)
	if !ok {
		return nil, notFound("asset", ref)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(a.info.Path))
	seed := h.Sum32()
	base := color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: base.R ^ uint8(x*255/width),
				G: base.G ^ uint8(y*255/height),
				B: base.B,
				A: 255,
			})
		}
	}
	return img, nil
}
