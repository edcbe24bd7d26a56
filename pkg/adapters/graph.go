package adapters

import (
	"context"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const graphParamDesc = "Blueprint name or asset path"

var blueprintLinks = linkParams{
	graph:      "graph",
	sourceNode: "source_node",
	sourcePin:  "source_pin",
	targetNode: "target_node",
	targetPin:  "target_pin",
}

func graphCommands(deps Deps) []registry.Descriptor {
	const kind = host.KindBlueprint

	// nodeGraph resolves the graph holding a node when the caller did not name one.
	nodeGraph := func(p protocol.Params) (string, error) {
		if g := str(p, "graph"); g != "" {
			return g, nil
		}
		return deps.Graphs.FindNode(kind, str(p, "node"))
	}

	return []registry.Descriptor{
		{
			Name:        "create_blueprint",
			Description: "Create a Blueprint class asset",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "name", Type: registry.TypeString, Required: true, Description: "Asset name, e.g. BP_Door"},
				{Name: "parent_class", Type: registry.TypeString, Default: "Actor", Description: "Parent class"},
				{Name: "path", Type: registry.TypeString, Default: "/Game/Blueprints", Description: "Content folder"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return assetName(p, "name") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.CreateAsset(kind, joinPath(str(p, "path"), str(p, "name")))
					if err != nil {
						return nil, err
					}
					if err := deps.Graphs.SetGraphProperty(kind, info.Path, "parent_class", str(p, "parent_class")); err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"name":         info.Name,
						"path":         info.Path,
						"parent_class": str(p, "parent_class"),
					}, nil
				}),
		},
		{
			Name:        "create_node",
			Description: "Add a node to a Blueprint event graph",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "graph", Type: registry.TypeString, Required: true, Description: graphParamDesc},
				{Name: "type", Type: registry.TypeString, Required: true, Description: "Node type, e.g. Add or PrintString"},
				{Name: "position", Type: registry.TypeArray, Description: "[x, y] canvas position"},
				{Name: "label", Type: registry.TypeString, Description: "Display label"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					if err := nonEmpty(p, "graph", "type"); err != nil {
						return err
					}
					return validatePosition(p, "position")
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					n, err := deps.Graphs.AddNode(kind, str(p, "graph"), str(p, "type"), str(p, "label"), position(p, "position"))
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"node_id":  n.ID,
						"type":     n.Type,
						"position": positionSlice(n.Position),
					}, nil
				}),
		},
		{
			Name:        "connect_nodes",
			Description: "Connect an output pin to an input pin",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Params:      linkSpecs(blueprintLinks, graphParamDesc),
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				link := blueprintLinks.link(p)
				if err := deps.Graphs.Connect(kind, str(p, "graph"), link); err != nil {
					return nil, err
				}
				out := linkMap(link)
				out["connected"] = true
				return out, nil
			}),
		},
		{
			Name:        "disconnect_nodes",
			Description: "Remove a pin connection",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Params:      linkSpecs(blueprintLinks, graphParamDesc),
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				if err := deps.Graphs.Disconnect(kind, str(p, "graph"), blueprintLinks.link(p)); err != nil {
					return nil, err
				}
				return map[string]interface{}{"disconnected": true}, nil
			}),
		},
		{
			Name:        "delete_node",
			Description: "Delete a node and its connections",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "graph", Type: registry.TypeString, Required: true, Description: graphParamDesc},
				{Name: "node", Type: registry.TypeString, Required: true, Description: "Node id"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				if err := deps.Graphs.RemoveNode(kind, str(p, "graph"), str(p, "node")); err != nil {
					return nil, err
				}
				return map[string]interface{}{"deleted": true, "node_id": str(p, "node")}, nil
			}),
		},
		{
			Name:        "set_property",
			Description: "Set a property on a node",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Strict:      true,
			Params: []registry.ParamSpec{
				{Name: "node", Type: registry.TypeString, Required: true, Description: "Node id"},
				{Name: "prop", Type: registry.TypeString, Required: true, Description: "Property name"},
				{Name: "val", Type: registry.TypeAny, Required: true, Description: "New value"},
				{Name: "graph", Type: registry.TypeString, Description: graphParamDesc + "; looked up from the node when omitted"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return nonEmpty(p, "node", "prop") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					graph, err := nodeGraph(p)
					if err != nil {
						return nil, err
					}
					val, _ := p.Get("val")
					if err := deps.Graphs.SetNodeProperty(kind, graph, str(p, "node"), str(p, "prop"), val); err != nil {
						return nil, err
					}
					return map[string]interface{}{"node_id": str(p, "node"), "prop": str(p, "prop"), "val": val}, nil
				}),
		},
		{
			Name:        "get_property",
			Description: "Read a property from a node",
			Subsystem:   host.SubsystemGraph,
			Params: []registry.ParamSpec{
				{Name: "node", Type: registry.TypeString, Required: true, Description: "Node id"},
				{Name: "prop", Type: registry.TypeString, Required: true, Description: "Property name"},
				{Name: "graph", Type: registry.TypeString, Description: graphParamDesc + "; looked up from the node when omitted"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				graph, err := nodeGraph(p)
				if err != nil {
					return nil, err
				}
				val, err := deps.Graphs.NodeProperty(kind, graph, str(p, "node"), str(p, "prop"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"node_id": str(p, "node"), "prop": str(p, "prop"), "val": val}, nil
			}),
		},
		{
			Name:        "list_nodes",
			Description: "List the nodes and connections of a Blueprint graph",
			Subsystem:   host.SubsystemGraph,
			Params: []registry.ParamSpec{
				{Name: "graph", Type: registry.TypeString, Required: true, Description: graphParamDesc},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				return describeGraph(deps.Graphs, kind, str(p, "graph"))
			}),
		},
		{
			Name:        "compile_blueprint",
			Description: "Compile a Blueprint",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "graph", Type: registry.TypeString, Required: true, Description: graphParamDesc},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				report, err := deps.Graphs.Compile(kind, str(p, "graph"))
				if err != nil {
					return nil, err
				}
				return compileResult("blueprint", str(p, "graph"), report)
			}),
		},
		{
			Name:        "connect_nodes_batch",
			Description: "Make several connections; all or none are applied",
			Subsystem:   host.SubsystemGraph,
			Mutates:     true,
			Atomic:      true,
			Params: []registry.ParamSpec{
				{Name: "graph", Type: registry.TypeString, Required: true, Description: graphParamDesc},
				{Name: "connections", Type: registry.TypeArray, Required: true, Description: "Objects with source_node, source_pin, target_node, target_pin"},
			},
			Handler: registry.HandleValidated(validateConnections, func(ctx context.Context, p protocol.Params) (interface{}, error) {
				graph := str(p, "graph")
				entries, _ := p.Slice("connections")
				links := make([]host.Link, 0, len(entries))
				for _, e := range entries {
					links = append(links, blueprintLinks.link(protocol.ParamsFromMap(e.(map[string]interface{}))))
				}
				for i, l := range links {
					if err := deps.Graphs.Connect(kind, graph, l); err != nil {
						rolledBack := rollbackLinks(deps.Graphs, kind, graph, links[:i])
						return nil, protocol.Errorf(protocol.KindAdapter, "connection %d failed: %v", i, err).
							WithDetail("failed_index", i).
							WithDetail("rolled_back", rolledBack)
					}
				}
				return map[string]interface{}{"connected": len(links)}, nil
			}),
		},
	}
}

func validateConnections(p protocol.Params) error {
	entries, _ := p.Slice("connections")
	if len(entries) == 0 {
		return protocol.NewError(protocol.KindValidation, "connections must not be empty")
	}
	for i, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			return protocol.Errorf(protocol.KindValidation, "connections[%d] must be an object", i)
		}
		for _, key := range []string{"source_node", "source_pin", "target_node", "target_pin"} {
			if s, ok := m[key].(string); !ok || s == "" {
				return protocol.Errorf(protocol.KindValidation, "connections[%d].%s must be a non-empty string", i, key)
			}
		}
	}
	return nil
}

// rollbackLinks removes links in reverse order and returns how many were undone.
func rollbackLinks(g host.GraphEditor, kind host.AssetKind, graph string, links []host.Link) int {
	undone := 0
	for i := len(links) - 1; i >= 0; i-- {
		if err := g.Disconnect(kind, graph, links[i]); err == nil {
			undone++
		}
	}
	return undone
}

func describeGraph(g host.GraphEditor, kind host.AssetKind, graph string) (interface{}, error) {
	nodes, err := g.Nodes(kind, graph)
	if err != nil {
		return nil, err
	}
	links, err := g.Links(kind, graph)
	if err != nil {
		return nil, err
	}
	nodeList := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		nodeList = append(nodeList, nodeMap(n))
	}
	linkList := make([]interface{}, 0, len(links))
	for _, l := range links {
		linkList = append(linkList, linkMap(l))
	}
	return map[string]interface{}{
		"graph": graph,
		"nodes": nodeList,
		"links": linkList,
		"count": len(nodeList),
	}, nil
}
