package adapters

import (
	"context"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const pcgParamDesc = "PCG graph name or asset path"

var pcgLinks = linkParams{
	graph:      "graph_path",
	sourceNode: "source_node",
	sourcePin:  "source_pin",
	targetNode: "target_node",
	targetPin:  "target_pin",
}

func proceduralCommands(deps Deps) []registry.Descriptor {
	const kind = host.KindPCGGraph

	return []registry.Descriptor{
		{
			Name:        "create_pcg_graph",
			Description: "Create a PCG graph asset",
			Subsystem:   host.SubsystemProcedural,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Asset name, e.g. PCG_Forest"},
				{Name: "path", Type: registry.TypeString, Default: "/Game/PCG", Description: "Content folder"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return assetName(p, "name") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.CreateAsset(kind, joinPath(str(p, "path"), str(p, "name")))
					if err != nil {
						return nil, err
					}
					out := assetMap(info)
					out["graph_path"] = info.Path
					return out, nil
				}),
		},
		{
			Name:        "add_pcg_node",
			Description: "Add a settings node to a PCG graph",
			Subsystem:   host.SubsystemProcedural,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "graph_path", Type: registry.TypeString, Required: true, Description: pcgParamDesc},
				{Name: "settings_class", Type: registry.TypeString, Required: true, Description: "Settings class, e.g. PCGSurfaceSamplerSettings"},
				{Name: "node_position", Type: registry.TypeArray, Description: "[x, y] canvas position"},
				{Name: "node_label", Type: registry.TypeString, Description: "Display label"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := nonEmpty(p, "settings_class"); err != nil {
						return err
					}
					return validatePosition(p, "node_position")
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					n, err := deps.Graphs.AddNode(kind, str(p, "graph_path"), str(p, "settings_class"), str(p, "node_label"), position(p, "node_position"))
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"node_id":        n.ID,
						"settings_class": n.Type,
						"node_label":     n.Label,
						"node_position":  positionSlice(n.Position),
					}, nil
				}),
		},
		{
			Name:        "connect_pcg_nodes",
			Description: "Connect two PCG node pins",
			Subsystem:   host.SubsystemProcedural,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "graph_path", Type: registry.TypeString, Required: true, Description: pcgParamDesc},
				{Name: "source_node", Type: registry.TypeString, Required: true, Description: "Source node id"},
				{Name: "source_pin", Type: registry.TypeString, Default: "Out", Description: "Output pin"},
				{Name: "target_node", Type: registry.TypeString, Required: true, Description: "Target node id"},
				{Name: "target_pin", Type: registry.TypeString, Default: "In", Description: "Input pin"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				link := pcgLinks.link(p)
				if err := deps.Graphs.Connect(kind, str(p, "graph_path"), link); err != nil {
					return nil, err
				}
				out := linkMap(link)
				out["connected"] = true
				return out, nil
			}),
		},
		{
			Name:        "set_pcg_node_property",
			Description: "Set a property on a PCG node's settings",
			Subsystem:   host.SubsystemProcedural,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "graph_path", Type: registry.TypeString, Required: true, Description: pcgParamDesc},
				{Name: "node_id", Type: registry.TypeString, Required: true, Description: "Node id"},
				{Name: "property_name", Type: registry.TypeString, Required: true, Description: "Settings property"},
				{Name: "property_value", Type: registry.TypeAny, Required: true, Description: "New value"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				value, _ := p.Get("property_value")
				if err := deps.Graphs.SetNodeProperty(kind, str(p, "graph_path"), str(p, "node_id"), str(p, "property_name"), value); err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"node_id":        str(p, "node_id"),
					"property_name":  str(p, "property_name"),
					"property_value": value,
				}, nil
			}),
		},
		{
			Name:        "execute_pcg_graph",
			Description: "Run a PCG graph and report what it generated",
			Subsystem:   host.SubsystemProcedural,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "graph_path", Type: registry.TypeString, Required: true, Description: pcgParamDesc},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				report, err := deps.Procedural.ExecuteGraph(str(p, "graph_path"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"executed":         true,
					"nodes":            report.Nodes,
					"points_generated": report.PointsGenerated,
				}, nil
			}),
		},
	}
}
