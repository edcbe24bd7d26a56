package host

import (
	"fmt"
	"sort"
)

type nodeGraph struct {
	nodes map[string]*NodeInfo
	order []string
	links []Link
}

func newNodeGraph() *nodeGraph {
	return &nodeGraph{nodes: make(map[string]*NodeInfo)}
}

func (g *nodeGraph) node(id string) (*NodeInfo, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, notFound("node", id)
	}
	return n, nil
}

func (g *nodeGraph) linkIndex(l Link) int {
	for i, existing := range g.links {
		if existing == l {
			return i
		}
	}
	return -1
}

func nodePrefix(kind AssetKind) string {
	switch kind {
	case KindBlueprint:
		return "K2Node"
	case KindMetaSoundSource:
		return "MetaSoundNode"
	case KindPCGGraph:
		return "PCGNode"
	case KindMaterial:
		return "MaterialExpression"
	}
	return "Node"
}

func (e *Editor) graphOf(kind AssetKind, ref string) (*asset, *nodeGraph, error) {
	if !graphKinds[kind] {
		return nil, nil, invalid("%s assets have no node graph", kind)
	}
	a, err := e.resolveKind(kind, ref)
	if err != nil {
		return nil, nil, notFound(RefGraph, ref)
	}
	return a, a.graph, nil
}

func copyNode(n *NodeInfo) NodeInfo {
	c := *n
	c.Properties = make(map[string]interface{}, len(n.Properties))
	for k, v := range n.Properties {
		c.Properties[k] = v
	}
	return c
}

// AddNode adds a node of nodeType to a graph.
func (e *Editor) AddNode(kind AssetKind, graph, nodeType, nodeLabel string, pos Position) (NodeInfo, error) {
	defer e.guard.enter()()
	if nodeType == "" {
		return NodeInfo{}, invalid("node type is required")
	}
	a, g, err := e.graphOf(kind, graph)
	if err != nil {
		return NodeInfo{}, err
	}
	if nodeLabel == "" {
		nodeLabel = nodeType
	}
	n := &NodeInfo{
		ID:         e.nextID(nodePrefix(kind), nodeType),
		Type:       nodeType,
		Label:      nodeLabel,
		Position:   pos,
		Properties: make(map[string]interface{}),
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	a.info.Dirty = true
	return copyNode(n), nil
}

// RemoveNode deletes a node and every link touching it.
func (e *Editor) RemoveNode(kind AssetKind, graph, nodeID string) error {
	defer e.guard.enter()()
	a, g, err := e.graphOf(kind, graph)
	if err != nil {
		return err
	}
	if _, err := g.node(nodeID); err != nil {
		return err
	}
	delete(g.nodes, nodeID)
	for i, id := range g.order {
		if id == nodeID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	kept := g.links[:0]
	for _, l := range g.links {
		if l.SourceNode != nodeID && l.TargetNode != nodeID {
			kept = append(kept, l)
		}
	}
	g.links = kept
	a.info.Dirty = true
	return nil
}

// Connect links a source pin to a target pin.
func (e *Editor) Connect(kind AssetKind, graph string, link Link) error {
	defer e.guard.enter()()
	a, g, err := e.graphOf(kind, graph)
	if err != nil {
		return err
	}
	if _, err := g.node(link.SourceNode); err != nil {
		return err
	}
	if _, err := g.node(link.TargetNode); err != nil {
		return err
	}
	if link.SourcePin == "" || link.TargetPin == "" {
		return invalid("source and target pins are required")
	}
	if link.SourceNode == link.TargetNode {
		return invalid("cannot connect node %q to itself", link.SourceNode)
	}
	if g.linkIndex(link) >= 0 {
		return exists("link", fmt.Sprintf("%s.%s->%s.%s", link.SourceNode, link.SourcePin, link.TargetNode, link.TargetPin))
	}
	g.links = append(g.links, link)
	a.info.Dirty = true
	return nil
}

// Disconnect removes a link.
func (e *Editor) Disconnect(kind AssetKind, graph string, link Link) error {
	defer e.guard.enter()()
	a, g, err := e.graphOf(kind, graph)
	if err != nil {
		return err
	}
	i := g.linkIndex(link)
	if i < 0 {
		return notFound("link", fmt.Sprintf("%s.%s->%s.%s", link.SourceNode, link.SourcePin, link.TargetNode, link.TargetPin))
	}
	g.links = append(g.links[:i], g.links[i+1:]...)
	a.info.Dirty = true
	return nil
}

// FindNode returns the path of the graph holding nodeID.
func (e *Editor) FindNode(kind AssetKind, nodeID string) (string, error) {
	defer e.guard.enter()()
	paths := make([]string, 0, len(e.assets))
	for p, a := range e.assets {
		if a.info.Kind == kind && a.graph != nil {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		if _, ok := e.assets[p].graph.nodes[nodeID]; ok {
			return p, nil
		}
	}
	return "", notFound("node", nodeID)
}

// SetNodeProperty sets a property on a node.
func (e *Editor) SetNodeProperty(kind AssetKind, graph, nodeID, prop string, value interface{}) error {
	defer e.guard.enter()()
	if prop == "" {
		return invalid("property name is required")
	}
	a, g, err := e.graphOf(kind, graph)
	if err != nil {
		return err
	}
	n, err := g.node(nodeID)
	if err != nil {
		return err
	}
	n.Properties[prop] = value
	a.info.Dirty = true
	return nil
}

// NodeProperty reads a property from a node.
func (e *Editor) NodeProperty(kind AssetKind, graph, nodeID, prop string) (interface{}, error) {
	defer e.guard.enter()()
	_, g, err := e.graphOf(kind, graph)
	if err != nil {
		return nil, err
	}
	n, err := g.node(nodeID)
	if err != nil {
		return nil, err
	}
	v, ok := n.Properties[prop]
	if !ok {
		return nil, notFound("property", prop)
	}
	return v, nil
}

// SetGraphProperty sets an asset-level property such as a parent class or a
// graph input default.
func (e *Editor) SetGraphProperty(kind AssetKind, graph, key string, value interface{}) error {
	defer e.guard.enter()()
	if key == "" {
		return invalid("property name is required")
	}
	a, err := e.resolveKind(kind, graph)
	if err != nil {
		return err
	}
	a.props[key] = value
	a.info.Dirty = true
	return nil
}

// Nodes lists a graph's nodes in creation order.
func (e *Editor) Nodes(kind AssetKind, graph string) ([]NodeInfo, error) {
	defer e.guard.enter()()
	_, g, err := e.graphOf(kind, graph)
	if err != nil {
		return nil, err
	}
	out := make([]NodeInfo, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, copyNode(g.nodes[id]))
	}
	return out, nil
}

// Links lists a graph's links in creation order.
func (e *Editor) Links(kind AssetKind, graph string) ([]Link, error) {
	defer e.guard.enter()()
	_, g, err := e.graphOf(kind, graph)
	if err != nil {
		return nil, err
	}
	return append([]Link(nil), g.links...), nil
}

// Compile checks an asset and records the result on it.
func (e *Editor) Compile(kind AssetKind, graph string) (CompileReport, error) {
	defer e.guard.enter()()
	a, err := e.resolveKind(kind, graph)
	if err != nil {
		return CompileReport{}, err
	}
	var report CompileReport
	switch {
	case a.graph != nil:
		report = compileGraph(a.graph)
	case kind == KindNiagaraSystem:
		report = compileEmitters(a.emitters)
	case kind == KindStateTree:
		report = compileStates(a.states, a.transitions)
	default:
		return CompileReport{}, invalid("%s assets cannot be compiled", kind)
	}
	report.Success = len(report.Errors) == 0
	a.props["compiled"] = report.Success
	return report, nil
}

func compileGraph(g *nodeGraph) CompileReport {
	var r CompileReport
	if len(g.order) < 2 {
		return r
	}
	linked := make(map[string]bool, len(g.nodes))
	for _, l := range g.links {
		linked[l.SourceNode] = true
		linked[l.TargetNode] = true
	}
	for _, id := range g.order {
		if !linked[id] {
			r.Warnings = append(r.Warnings, fmt.Sprintf("node %s is not connected", id))
		}
	}
	return r
}

func compileEmitters(emitters []*emitter) CompileReport {
	var r CompileReport
	if len(emitters) == 0 {
		r.Errors = append(r.Errors, "system has no emitters")
	}
	for _, em := range emitters {
		if len(em.modules) == 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("emitter %s has no modules", em.name))
		}
	}
	return r
}

func compileStates(states []StateInfo, transitions []Transition) CompileReport {
	var r CompileReport
	if len(states) == 0 {
		r.Errors = append(r.Errors, "state tree has no states")
		return r
	}
	outgoing := make(map[string]bool, len(states))
	for _, t := range transitions {
		outgoing[t.Source] = true
	}
	for _, s := range states {
		if !outgoing[s.Name] {
			r.Warnings = append(r.Warnings, fmt.Sprintf("state %s has no transitions", s.Name))
		}
	}
	return r
}
