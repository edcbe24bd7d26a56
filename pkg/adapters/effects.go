package adapters

import (
	"context"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const systemParamDesc = "Niagara system name or asset path"

func effectsCommands(deps Deps) []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:        "create_niagara_system",
			Description: "Create an empty Niagara system",
			Subsystem:   host.SubsystemEffects,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Asset name, e.g. NS_Fire"},
				{Name: "path", Type: registry.TypeString, Default: "/Game/Effects", Description: "Content folder"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return assetName(p, "name") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.CreateAsset(host.KindNiagaraSystem, joinPath(str(p, "path"), str(p, "name")))
					if err != nil {
						return nil, err
					}
					return assetMap(info), nil
				}),
		},
		{
			Name:        "add_emitter",
			Description: "Add an emitter to a Niagara system",
			Subsystem:   host.SubsystemEffects,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "system", Type: registry.TypeString, Required: true, Description: systemParamDesc},
				{Name: "emitter", Type: registry.TypeString, Required: true, Description: "Emitter name"},
				{Name: "template", Type: registry.TypeString, Description: "Emitter template, e.g. Fountain"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				index, err := deps.Effects.AddEmitter(str(p, "system"), str(p, "emitter"), str(p, "template"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"emitter": str(p, "emitter"), "index": index}, nil
			}),
		},
		{
			Name:        "add_module_to_emitter",
			Description: "Add a module to an emitter's spawn or update stack",
			Subsystem:   host.SubsystemEffects,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "system", Type: registry.TypeString, Required: true, Description: systemParamDesc},
				{Name: "emitter", Type: registry.TypeString, Required: true, Description: "Emitter name"},
				{Name: "module", Type: registry.TypeString, Required: true, Description: "Module name, e.g. AddVelocity"},
				{Name: "stage", Type: registry.TypeString, Default: host.StageUpdate, Description: "Spawn or Update"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return oneOf(p, "stage", host.StageSpawn, host.StageUpdate) },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					index, err := deps.Effects.AddModule(str(p, "system"), str(p, "emitter"), str(p, "module"), str(p, "stage"))
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"module": str(p, "module"), "stage": str(p, "stage"), "index": index}, nil
				}),
		},
		{
			Name:        "set_module_input",
			Description: "Set an input value on an emitter module",
			Subsystem:   host.SubsystemEffects,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "system", Type: registry.TypeString, Required: true, Description: systemParamDesc},
				{Name: "emitter", Type: registry.TypeString, Required: true, Description: "Emitter name"},
				{Name: "module", Type: registry.TypeString, Required: true, Description: "Module name"},
				{Name: "input", Type: registry.TypeString, Required: true, Description: "Input name"},
				{Name: "value", Type: registry.TypeAny, Required: true, Description: "Input value"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				value, _ := p.Get("value")
				if err := deps.Effects.SetModuleInput(str(p, "system"), str(p, "emitter"), str(p, "module"), str(p, "input"), value); err != nil {
					return nil, err
				}
				return map[string]interface{}{"module": str(p, "module"), "input": str(p, "input"), "value": value}, nil
			}),
		},
		{
			Name:        "compile_niagara_system",
			Description: "Compile a Niagara system",
			Subsystem:   host.SubsystemEffects,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "system", Type: registry.TypeString, Required: true, Description: systemParamDesc},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				report, err := deps.Graphs.Compile(host.KindNiagaraSystem, str(p, "system"))
				if err != nil {
					return nil, err
				}
				return compileResult("niagara system", str(p, "system"), report)
			}),
		},
	}
}
