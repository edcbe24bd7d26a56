// Package gateway exposes bridge commands as MCP tools. Tool calls are
// forwarded to a running bridge through a Caller.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const logPrefix = "gateway:gateway"

// ServerName is the MCP implementation name.
const ServerName = "editor-bridge"

// Caller sends one command to the bridge. *client.Client implements it.
type Caller interface {
	Call(ctx context.Context, command string, params protocol.Params) (interface{}, error)
}

// Gateway is an MCP server whose tools mirror the bridge's command table.
type Gateway struct {
	caller Caller
	server *mcp.Server
	tools  []string
}

// New creates a gateway. Call Sync before serving.
func New(caller Caller, version string) *Gateway {
	return &Gateway{
		caller: caller,
		server: mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil),
	}
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Tools returns the names of the registered tools.
func (g *Gateway) Tools() []string {
	return append([]string(nil), g.tools...)
}

// Sync asks the bridge for its command table and registers a tool per
// command. It returns the number of tools registered.
func (g *Gateway) Sync(ctx context.Context) (int, error) {
	result, err := g.caller.Call(ctx, "list_commands", protocol.NewParams())
	if err != nil {
		return 0, fmt.Errorf("%s - failed to list commands: %w", logPrefix, err)
	}
	commands, err := decodeCommands(result)
	if err != nil {
		return 0, fmt.Errorf("%s - failed to decode command table: %w", logPrefix, err)
	}

	for _, c := range commands {
		g.server.AddTool(toolFor(c), g.handler(c.Name))
		g.tools = append(g.tools, c.Name)
	}
	slog.Info(fmt.Sprintf("%s - Registered %d tools", logPrefix, len(commands)))
	return len(commands), nil
}

// Run serves MCP on transport until ctx is done or the peer disconnects.
func (g *Gateway) Run(ctx context.Context, transport mcp.Transport) error {
	if err := g.server.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s - mcp server stopped: %w", logPrefix, err)
	}
	return nil
}

func decodeCommands(result interface{}) ([]registry.CommandSummary, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var table struct {
		Commands []registry.CommandSummary `json:"commands"`
	}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	return table.Commands, nil
}

func toolFor(c registry.CommandSummary) *mcp.Tool {
	params := make([]registry.ParamSpec, 0, len(c.Params))
	for _, p := range c.Params {
		params = append(params, registry.ParamSpec{
			Name:        p.Name,
			Type:        registry.ParamType(p.Type),
			Required:    p.Required,
			Default:     p.Default,
			Description: p.Description,
		})
	}

	description := c.Description
	if description == "" {
		description = c.Name
	}
	if c.Requires != "" {
		description += fmt.Sprintf(" (requires host %s)", c.Requires)
	}

	destructive := c.Mutates
	return &mcp.Tool{
		Name:        c.Name,
		Description: description,
		InputSchema: registry.SchemaFromParams(params, false),
		Annotations: &mcp.ToolAnnotations{
			Title:           strings.ReplaceAll(c.Name, "_", " "),
			ReadOnlyHint:    !c.Mutates,
			DestructiveHint: &destructive,
		},
	}
}

func (g *Gateway) handler(command string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			return errorResult(protocol.NewError(protocol.KindValidation, err.Error())), nil
		}

		result, err := g.caller.Call(ctx, command, params)
		if err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) {
				return errorResult(perr), nil
			}
			return nil, fmt.Errorf("%s - %s failed: %w", logPrefix, command, err)
		}
		return successResult(result), nil
	}
}

func decodeArguments(raw json.RawMessage) (protocol.Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return protocol.NewParams(), nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return protocol.Params{}, fmt.Errorf("arguments must be an object: %w", err)
	}
	return protocol.ParamsFromMap(m), nil
}

func errorResult(perr *protocol.Error) *mcp.CallToolResult {
	text := fmt.Sprintf("%s: %s", perr.Kind, perr.Message)
	if len(perr.Details) > 0 {
		if details, err := json.Marshal(perr.Details); err == nil {
			text += "\n" + string(details)
		}
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// successResult renders the command result as JSON text. Image blobs are
// lifted out as image content.
func successResult(result interface{}) *mcp.CallToolResult {
	var images []mcp.Content
	stripped := extractImages(result, &images)

	text, err := json.Marshal(stripped)
	if err != nil {
		text = []byte(fmt.Sprint(stripped))
	}
	out := &mcp.CallToolResult{
		Content: append([]mcp.Content{&mcp.TextContent{Text: string(text)}}, images...),
	}
	if m, ok := stripped.(map[string]interface{}); ok {
		out.StructuredContent = m
	}
	return out
}

func extractImages(v interface{}, images *[]mcp.Content) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if img, ok := asImage(t); ok {
			*images = append(*images, img)
			summary := map[string]interface{}{"mime_type": t["mime_type"], "image": len(*images)}
			for _, k := range []string{"width", "height"} {
				if v, ok := t[k]; ok {
					summary[k] = v
				}
			}
			return summary
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = extractImages(val, images)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = extractImages(val, images)
		}
		return out
	}
	return v
}

func asImage(m map[string]interface{}) (*mcp.ImageContent, bool) {
	mime, _ := m["mime_type"].(string)
	if !strings.HasPrefix(mime, "image/") {
		return nil, false
	}
	var data []byte
	switch d := m["data"].(type) {
	case []byte:
		data = d
	case string:
		decoded, err := base64.StdEncoding.DecodeString(d)
		if err != nil {
			return nil, false
		}
		data = decoded
	default:
		return nil, false
	}
	return &mcp.ImageContent{MIMEType: mime, Data: data}, true
}
