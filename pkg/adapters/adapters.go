// Package adapters implements the editor commands. Each subsystem contributes a
// set of descriptors whose handlers drive the host capability interfaces on
// the mutation thread.
package adapters

import (
	"fmt"
	"log/slog"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const logPrefix = "adapters:adapters"

// StatusFunc reports server state for get_server_status. It is called off the
// mutation thread and must be safe for concurrent use.
type StatusFunc func() map[string]interface{}

// Deps are the host capabilities the adapters drive. A nil capability leaves
// its subsystem's commands unregistered.
type Deps struct {
	Assets     host.AssetStore
	Graphs     host.GraphEditor
	Effects    host.EffectsEditor
	Behavior   host.BehaviorEditor
	Procedural host.ProceduralEditor
	Pixels     host.PixelReader
	Materials  host.MaterialEditor
	Level      host.LevelEditor

	Registry *registry.Registry
	Status   StatusFunc
}

// EditorDeps wires every capability to one simulated editor.
func EditorDeps(e *host.Editor, reg *registry.Registry, status StatusFunc) Deps {
	return Deps{
		Assets:     e,
		Graphs:     e,
		Effects:    e,
		Behavior:   e,
		Procedural: e,
		Pixels:     e,
		Materials:  e,
		Level:      e,
		Registry:   reg,
		Status:     status,
	}
}

// RegisterAll registers every command whose capabilities are present.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	type group struct {
		name    string
		enabled bool
		build   func(Deps) []registry.Descriptor
	}
	groups := []group{
		{host.SubsystemSystem, true, systemCommands},
		{host.SubsystemGraph, deps.Assets != nil && deps.Graphs != nil, graphCommands},
		{host.SubsystemAsset, deps.Assets != nil, assetCommands},
		{host.SubsystemEffects, deps.Assets != nil && deps.Effects != nil && deps.Graphs != nil, effectsCommands},
		{host.SubsystemAudio, deps.Assets != nil && deps.Graphs != nil, audioCommands},
		{host.SubsystemBehavior, deps.Assets != nil && deps.Behavior != nil && deps.Graphs != nil, behaviorCommands},
		{host.SubsystemProcedural, deps.Assets != nil && deps.Graphs != nil && deps.Procedural != nil, proceduralCommands},
		{host.SubsystemCapture, deps.Pixels != nil, captureCommands},
		{host.SubsystemMaterial, deps.Assets != nil && deps.Graphs != nil && deps.Materials != nil, materialCommands},
		{host.SubsystemLevel, deps.Level != nil, levelCommands},
	}
	for _, g := range groups {
		if !g.enabled {
			slog.Warn(fmt.Sprintf("%s - %s capabilities unavailable, commands not registered", logPrefix, g.name))
			continue
		}
		if err := reg.RegisterAll(g.build(deps)...); err != nil {
			return fmt.Errorf("%s - failed to register %s commands: %w", logPrefix, g.name, err)
		}
	}
	return nil
}

// --- parameter helpers ---

func str(p protocol.Params, name string) string {
	s, _ := p.String(name)
	return s
}

func integer(p protocol.Params, name string) int {
	n, _ := p.Int(name)
	return int(n)
}

func validatePosition(p protocol.Params, name string) error {
	v, ok := p.Get(name)
	if !ok || v == nil {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return protocol.Errorf(protocol.KindValidation, "%s must be an [x, y] array", name)
	}
	for _, c := range arr {
		switch c.(type) {
		case int64, float64:
		default:
			return protocol.Errorf(protocol.KindValidation, "%s must contain numbers", name)
		}
	}
	return nil
}

func position(p protocol.Params, name string) host.Position {
	arr, ok := p.Slice(name)
	if !ok || len(arr) != 2 {
		return host.Position{}
	}
	return host.Position{X: number(arr[0]), Y: number(arr[1])}
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func oneOf(p protocol.Params, name string, allowed ...string) error {
	v := str(p, name)
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return protocol.Errorf(protocol.KindValidation, "%s must be one of %v, got %q", name, allowed, v).
		WithDetail("parameter", name)
}

func nonEmpty(p protocol.Params, names ...string) error {
	for _, n := range names {
		if v, ok := p.String(n); ok && v == "" {
			return protocol.Errorf(protocol.KindValidation, "%s must not be empty", n).WithDetail("parameter", n)
		}
	}
	return nil
}

func assetName(p protocol.Params, name string) error {
	v := str(p, name)
	if v == "" {
		return protocol.Errorf(protocol.KindValidation, "%s must not be empty", name)
	}
	for _, r := range v {
		if r == '/' || r == '\\' || r == '.' || r == ' ' {
			return protocol.Errorf(protocol.KindValidation, "%s %q must be a bare asset name", name, v)
		}
	}
	return nil
}

func joinPath(folder, name string) string {
	for len(folder) > 1 && folder[len(folder)-1] == '/' {
		folder = folder[:len(folder)-1]
	}
	return folder + "/" + name
}

// --- result helpers ---

func positionSlice(pos host.Position) []interface{} {
	return []interface{}{pos.X, pos.Y}
}

func nodeMap(n host.NodeInfo) map[string]interface{} {
	props := make(map[string]interface{}, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = v
	}
	return map[string]interface{}{
		"node_id":    n.ID,
		"type":       n.Type,
		"label":      n.Label,
		"position":   positionSlice(n.Position),
		"properties": props,
	}
}

func linkMap(l host.Link) map[string]interface{} {
	return map[string]interface{}{
		"source_node": l.SourceNode,
		"source_pin":  l.SourcePin,
		"target_node": l.TargetNode,
		"target_pin":  l.TargetPin,
	}
}

func assetMap(a host.AssetInfo) map[string]interface{} {
	return map[string]interface{}{
		"path":  a.Path,
		"name":  a.Name,
		"kind":  string(a.Kind),
		"dirty": a.Dirty,
	}
}

func stringList(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

// compileResult turns a compile report into a result, or an AdapterError when
// compilation failed.
func compileResult(what, ref string, r host.CompileReport) (interface{}, error) {
	if !r.Success {
		return nil, protocol.Errorf(protocol.KindAdapter, "%s %q failed to compile: %d error(s)", what, ref, len(r.Errors)).
			WithDetail("errors", stringList(r.Errors)).
			WithDetail("warnings", stringList(r.Warnings))
	}
	return map[string]interface{}{
		"compiled": true,
		"warnings": stringList(r.Warnings),
		"errors":   stringList(r.Errors),
	}, nil
}

// --- shared graph commands ---

type linkParams struct {
	graph, sourceNode, sourcePin, targetNode, targetPin string
}

func (lp linkParams) link(p protocol.Params) host.Link {
	return host.Link{
		SourceNode: str(p, lp.sourceNode),
		SourcePin:  str(p, lp.sourcePin),
		TargetNode: str(p, lp.targetNode),
		TargetPin:  str(p, lp.targetPin),
	}
}

func linkSpecs(lp linkParams, graphDesc string) []registry.ParamSpec {
	return []registry.ParamSpec{
		{Name: lp.graph, Type: registry.TypeString, Required: true, Description: graphDesc},
		{Name: lp.sourceNode, Type: registry.TypeString, Required: true, Description: "Source node id"},
		{Name: lp.sourcePin, Type: registry.TypeString, Required: true, Description: "Output pin on the source node"},
		{Name: lp.targetNode, Type: registry.TypeString, Required: true, Description: "Target node id"},
		{Name: lp.targetPin, Type: registry.TypeString, Required: true, Description: "Input pin on the target node"},
	}
}
