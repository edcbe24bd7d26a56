package adapters

import (
	"context"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const metasoundParamDesc = "MetaSound source name or asset path"

var metasoundLinks = linkParams{
	graph:      "metasound",
	sourceNode: "source_node",
	sourcePin:  "source_pin",
	targetNode: "target_node",
	targetPin:  "target_pin",
}

func audioCommands(deps Deps) []registry.Descriptor {
	const kind = host.KindMetaSoundSource

	return []registry.Descriptor{
		{
			Name:        "create_metasound_source",
			Description: "Create a MetaSound source",
			Subsystem:   host.SubsystemAudio,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Asset name, e.g. MS_Engine"},
				{Name: "path", Type: registry.TypeString, Default: "/Game/Audio", Description: "Content folder"},
				{Name: "output_format", Type: registry.TypeString, Default: "Mono", Description: "Mono, Stereo, Quad, FiveDotOne or SevenDotOne"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := assetName(p, "name"); err != nil {
						return err
					}
					return oneOf(p, "output_format", "Mono", "Stereo", "Quad", "FiveDotOne", "SevenDotOne")
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.CreateAsset(kind, joinPath(str(p, "path"), str(p, "name")))
					if err != nil {
						return nil, err
					}
					if err := deps.Graphs.SetGraphProperty(kind, info.Path, "output_format", str(p, "output_format")); err != nil {
						return nil, err
					}
					out := assetMap(info)
					out["output_format"] = str(p, "output_format")
					return out, nil
				}),
		},
		{
			Name:        "add_metasound_node",
			Description: "Add a node to a MetaSound graph",
			Subsystem:   host.SubsystemAudio,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "metasound", Type: registry.TypeString, Required: true, Description: metasoundParamDesc},
				{Name: "node_type", Type: registry.TypeString, Required: true, Description: "Node class, e.g. Sine or ADSR"},
				{Name: "position", Type: registry.TypeArray, Description: "[x, y] canvas position"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return validatePosition(p, "position") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					n, err := deps.Graphs.AddNode(kind, str(p, "metasound"), str(p, "node_type"), "", position(p, "position"))
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{"node_id": n.ID, "node_type": n.Type}, nil
				}),
		},
		{
			Name:        "connect_metasound_nodes",
			Description: "Connect two MetaSound node pins",
			Subsystem:   host.SubsystemAudio,
			Mutates:     true,
			Params:      linkSpecs(metasoundLinks, metasoundParamDesc),
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				link := metasoundLinks.link(p)
				if err := deps.Graphs.Connect(kind, str(p, "metasound"), link); err != nil {
					return nil, err
				}
				out := linkMap(link)
				out["connected"] = true
				return out, nil
			}),
		},
		{
			Name:        "set_metasound_input",
			Description: "Set the default value of a MetaSound graph input",
			Subsystem:   host.SubsystemAudio,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "metasound", Type: registry.TypeString, Required: true, Description: metasoundParamDesc},
				{Name: "input", Type: registry.TypeString, Required: true, Description: "Graph input name"},
				{Name: "value", Type: registry.TypeAny, Required: true, Description: "Default value"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return nonEmpty(p, "input") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					value, _ := p.Get("value")
					if err := deps.Graphs.SetGraphProperty(kind, str(p, "metasound"), "input."+str(p, "input"), value); err != nil {
						return nil, err
					}
					return map[string]interface{}{"input": str(p, "input"), "value": value}, nil
				}),
		},
	}
}
