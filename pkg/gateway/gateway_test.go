package gateway

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const testPrefix = "gateway:gateway_test"

// fakeCaller answers list_commands from a descriptor table and records the
// params of every other call.
type fakeCaller struct {
	mu       sync.Mutex
	commands []registry.CommandSummary
	calls    map[string]protocol.Params
	results  map[string]interface{}
	errs     map[string]error
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		commands: []registry.CommandSummary{
			(&registry.Descriptor{
				Name:        "create_node",
				Description: "Create a node",
				Subsystem:   host.SubsystemGraph,
				Mutates:     true,
				Params: []registry.ParamSpec{
					{Name: "name", Type: registry.TypeString, Required: true},
					{Name: "x", Type: registry.TypeNumber, Default: 0.0},
				},
			}).Summary(),
			(&registry.Descriptor{
				Name:       "capture_viewport",
				Subsystem:  host.SubsystemCapture,
				ThreadSafe: false,
			}).Summary(),
		},
		calls:   make(map[string]protocol.Params),
		results: make(map[string]interface{}),
		errs:    make(map[string]error),
	}
}

func (f *fakeCaller) Call(ctx context.Context, command string, params protocol.Params) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if command == "list_commands" {
		list := make([]interface{}, 0, len(f.commands))
		for _, c := range f.commands {
			list = append(list, c.Map())
		}
		return map[string]interface{}{"commands": list, "count": len(list)}, nil
	}
	f.calls[command] = params
	if err := f.errs[command]; err != nil {
		return nil, err
	}
	return f.results[command], nil
}

func (f *fakeCaller) params(command string) (protocol.Params, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.calls[command]
	return p, ok
}

func connect(t *testing.T, g *Gateway) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := g.Server().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("%s - server connect: %v", testPrefix, err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("%s - client connect: %v", testPrefix, err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func syncedGateway(t *testing.T, caller *fakeCaller) *Gateway {
	t.Helper()
	g := New(caller, "test")
	n, err := g.Sync(context.Background())
	if err != nil {
		t.Fatalf("%s - sync: %v", testPrefix, err)
	}
	if n != len(caller.commands) {
		t.Fatalf("%s - registered %d tools, want %d", testPrefix, n, len(caller.commands))
	}
	return g
}

func TestSync_ListsToolsWithSchemas(t *testing.T) {
	session := connect(t, syncedGateway(t, newFakeCaller()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("%s - list tools: %v", testPrefix, err)
	}
	tools := make(map[string]*mcp.Tool)
	for _, tool := range res.Tools {
		tools[tool.Name] = tool
	}
	create, ok := tools["create_node"]
	if !ok {
		t.Fatalf("%s - create_node missing from %v", testPrefix, tools)
	}
	if create.Description != "Create a node" {
		t.Errorf("%s - description = %q", testPrefix, create.Description)
	}
	if create.Annotations == nil || create.Annotations.ReadOnlyHint {
		t.Errorf("%s - create_node should not be read-only", testPrefix)
	}
	schema, ok := create.InputSchema.(map[string]interface{})
	if !ok {
		t.Fatalf("%s - unexpected schema type %T", testPrefix, create.InputSchema)
	}
	props, _ := schema["properties"].(map[string]interface{})
	if _, ok := props["name"]; !ok {
		t.Errorf("%s - schema has no name property: %v", testPrefix, schema)
	}
	if capture := tools["capture_viewport"]; capture == nil || capture.Description != "capture_viewport" {
		t.Errorf("%s - capture_viewport should fall back to its name as description", testPrefix)
	}
}

func TestCallTool_ForwardsArguments(t *testing.T) {
	caller := newFakeCaller()
	caller.results["create_node"] = map[string]interface{}{"path": "/root/Hero"}
	session := connect(t, syncedGateway(t, caller))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "create_node",
		Arguments: map[string]interface{}{"name": "Hero", "x": 2.5},
	})
	if err != nil {
		t.Fatalf("%s - call: %v", testPrefix, err)
	}
	if res.IsError {
		t.Fatalf("%s - unexpected tool error: %+v", testPrefix, res.Content)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok || !strings.Contains(text.Text, "/root/Hero") {
		t.Fatalf("%s - unexpected content %+v", testPrefix, res.Content)
	}

	params, ok := caller.params("create_node")
	if !ok {
		t.Fatalf("%s - create_node was not forwarded", testPrefix)
	}
	if v, _ := params.Get("name"); v != "Hero" {
		t.Errorf("%s - name = %v", testPrefix, v)
	}
}

func TestCallTool_BridgeErrorIsToolError(t *testing.T) {
	caller := newFakeCaller()
	caller.errs["create_node"] = protocol.NewError(protocol.KindHostNotReady, "graph is loading")
	session := connect(t, syncedGateway(t, caller))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "create_node",
		Arguments: map[string]interface{}{"name": "Hero"},
	})
	if err != nil {
		t.Fatalf("%s - call: %v", testPrefix, err)
	}
	if !res.IsError {
		t.Fatalf("%s - expected IsError", testPrefix)
	}
	text, _ := res.Content[0].(*mcp.TextContent)
	if text == nil || !strings.Contains(text.Text, string(protocol.KindHostNotReady)) {
		t.Fatalf("%s - error text should carry the kind, got %+v", testPrefix, res.Content)
	}
}

func TestCallTool_ImageResult(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	caller := newFakeCaller()
	caller.results["capture_viewport"] = map[string]interface{}{
		"image": map[string]interface{}{
			"mime_type": "image/png",
			"width":     1.0,
			"height":    1.0,
			"data":      base64.StdEncoding.EncodeToString(png),
		},
	}
	session := connect(t, syncedGateway(t, caller))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "capture_viewport"})
	if err != nil {
		t.Fatalf("%s - call: %v", testPrefix, err)
	}
	if len(res.Content) != 2 {
		t.Fatalf("%s - expected text and image content, got %d items", testPrefix, len(res.Content))
	}
	img, ok := res.Content[1].(*mcp.ImageContent)
	if !ok {
		t.Fatalf("%s - second item is %T, want image", testPrefix, res.Content[1])
	}
	if img.MIMEType != "image/png" || string(img.Data) != string(png) {
		t.Errorf("%s - image = %s %v", testPrefix, img.MIMEType, img.Data)
	}
	if text := res.Content[0].(*mcp.TextContent).Text; strings.Contains(text, "data") {
		t.Errorf("%s - text content should not repeat the image bytes: %s", testPrefix, text)
	}
}

func TestDecodeArguments(t *testing.T) {
	p, err := decodeArguments(nil)
	if err != nil || p.Len() != 0 {
		t.Fatalf("%s - empty arguments: %v %v", testPrefix, p, err)
	}
	if _, err := decodeArguments([]byte(`[1,2]`)); err == nil {
		t.Fatalf("%s - expected error for non-object arguments", testPrefix)
	}
}
