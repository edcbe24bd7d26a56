package adapters

import (
	"context"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const treeParamDesc = "State tree name or asset path"

var (
	stateTypes      = []string{"State", "Group", "Linked", "Subtree"}
	triggers        = []string{"OnStateCompleted", "OnStateSucceeded", "OnStateFailed", "OnTick", "OnEvent"}
	transitionTypes = []string{host.TransitionGotoState, host.TransitionNextState, host.TransitionSucceeded, host.TransitionFailed}
)

func behaviorCommands(deps Deps) []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:        "create_state_tree",
			Description: "Create a StateTree asset",
			Subsystem:   host.SubsystemBehavior,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Asset name, e.g. ST_Guard"},
				{Name: "path", Type: registry.TypeString, Default: "/Game/AI", Description: "Content folder"},
				{Name: "schema", Type: registry.TypeString, Default: "StateTreeComponentSchema", Description: "Schema class"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return assetName(p, "name") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.CreateAsset(host.KindStateTree, joinPath(str(p, "path"), str(p, "name")))
					if err != nil {
						return nil, err
					}
					if err := deps.Graphs.SetGraphProperty(host.KindStateTree, info.Path, "schema", str(p, "schema")); err != nil {
						return nil, err
					}
					out := assetMap(info)
					out["schema"] = str(p, "schema")
					return out, nil
				}),
		},
		{
			Name:        "add_state",
			Description: "Add a state to a StateTree",
			Subsystem:   host.SubsystemBehavior,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "state_tree", Type: registry.TypeString, Required: true, Description: treeParamDesc},
				{Name: "state_name", Type: registry.TypeString, Required: true, Description: "New state name"},
				{Name: "parent_state", Type: registry.TypeString, Description: "Parent state; root level when omitted"},
				{Name: "state_type", Type: registry.TypeString, Default: "State", Description: "State, Group, Linked or Subtree"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := nonEmpty(p, "state_name"); err != nil {
						return err
					}
					return oneOf(p, "state_type", stateTypes...)
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					state := host.StateInfo{Name: str(p, "state_name"), Parent: str(p, "parent_state"), Type: str(p, "state_type")}
					if err := deps.Behavior.AddState(str(p, "state_tree"), state); err != nil {
						return nil, err
					}
					return map[string]interface{}{"state_name": state.Name, "parent_state": state.Parent, "state_type": state.Type}, nil
				}),
		},
		{
			Name:        "add_transition",
			Description: "Add a transition out of a state",
			Subsystem:   host.SubsystemBehavior,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "state_tree", Type: registry.TypeString, Required: true, Description: treeParamDesc},
				{Name: "source_state", Type: registry.TypeString, Required: true, Description: "State the transition leaves"},
				{Name: "target_state", Type: registry.TypeString, Description: "Destination, required for GotoState"},
				{Name: "trigger", Type: registry.TypeString, Default: "OnStateCompleted", Description: "When the transition is evaluated"},
				{Name: "transition_type", Type: registry.TypeString, Default: host.TransitionGotoState, Description: "GotoState, NextState, Succeeded or Failed"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := oneOf(p, "trigger", triggers...); err != nil {
						return err
					}
					if err := oneOf(p, "transition_type", transitionTypes...); err != nil {
						return err
					}
					if str(p, "transition_type") == host.TransitionGotoState && str(p, "target_state") == "" {
						return protocol.NewError(protocol.KindValidation, "target_state is required for GotoState transitions")
					}
					return nil
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					t := host.Transition{
						Source:  str(p, "source_state"),
						Target:  str(p, "target_state"),
						Trigger: str(p, "trigger"),
						Type:    str(p, "transition_type"),
					}
					if err := deps.Behavior.AddTransition(str(p, "state_tree"), t); err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"source_state":    t.Source,
						"target_state":    t.Target,
						"trigger":         t.Trigger,
						"transition_type": t.Type,
					}, nil
				}),
		},
		{
			Name:        "batch_add_states",
			Description: "Add several states in order; stops at the first failure and reports progress",
			Subsystem:   host.SubsystemBehavior,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "state_tree", Type: registry.TypeString, Required: true, Description: treeParamDesc},
				{Name: "states", Type: registry.TypeArray, Required: true, Description: "Objects with state_name and optional parent_state, state_type"},
			},
			Handler: registry.HandleValidated(validateStates, func(ctx context.Context, p protocol.Params) (interface{}, error) {
				tree := str(p, "state_tree")
				entries, _ := p.Slice("states")
				added := make([]interface{}, 0, len(entries))
				for i, e := range entries {
					m := e.(map[string]interface{})
					name, _ := m["state_name"].(string)
					parent, _ := m["parent_state"].(string)
					stateType, _ := m["state_type"].(string)
					if err := deps.Behavior.AddState(tree, host.StateInfo{Name: name, Parent: parent, Type: stateType}); err != nil {
						return nil, protocol.Errorf(protocol.KindAdapter, "state %d (%s) failed after %d applied: %v", i, name, i, err).
							WithDetail("applied", i).
							WithDetail("failed_index", i).
							WithDetail("failed_state", name).
							WithDetail("added", added)
					}
					added = append(added, name)
				}
				return map[string]interface{}{"added": len(added), "states": added}, nil
			}),
		},
		{
			Name:        "compile_state_tree",
			Description: "Compile a StateTree",
			Subsystem:   host.SubsystemBehavior,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "state_tree", Type: registry.TypeString, Required: true, Description: treeParamDesc},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				report, err := deps.Graphs.Compile(host.KindStateTree, str(p, "state_tree"))
				if err != nil {
					return nil, err
				}
				return compileResult("state tree", str(p, "state_tree"), report)
			}),
		},
	}
}

func validateStates(p protocol.Params) error {
	entries, _ := p.Slice("states")
	if len(entries) == 0 {
		return protocol.NewError(protocol.KindValidation, "states must not be empty")
	}
	for i, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			return protocol.Errorf(protocol.KindValidation, "states[%d] must be an object", i)
		}
		if s, ok := m["state_name"].(string); !ok || s == "" {
			return protocol.Errorf(protocol.KindValidation, "states[%d].state_name must be a non-empty string", i)
		}
		if t, ok := m["state_type"]; ok {
			s, _ := t.(string)
			if !contains(stateTypes, s) {
				return protocol.Errorf(protocol.KindValidation, "states[%d].state_type must be one of %v", i, stateTypes)
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
