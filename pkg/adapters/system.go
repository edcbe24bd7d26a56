package adapters

import (
	"context"
	"time"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

func systemCommands(deps Deps) []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:        "ping",
			Description: "Check that the bridge is responding",
			Subsystem:   host.SubsystemSystem,
			ThreadSafe:  true,
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				return map[string]interface{}{
					"pong": true,
					"time": time.Now().UTC().Format(time.RFC3339Nano),
				}, nil
			}),
		},
		{
			Name:        "list_commands",
			Description: "List the commands this bridge serves",
			Subsystem:   host.SubsystemSystem,
			ThreadSafe:  true,
			Params: []registry.ParamSpec{
				{Name: "subsystem", Type: registry.TypeString, Description: "Only list commands of this subsystem"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				filter := str(p, "subsystem")
				commands := make([]interface{}, 0)
				if deps.Registry != nil {
					for _, d := range deps.Registry.List() {
						if filter != "" && d.Subsystem != filter {
							continue
						}
						commands = append(commands, d.Summary().Map())
					}
				}
				return map[string]interface{}{
					"commands": commands,
					"count":    len(commands),
				}, nil
			}),
		},
		{
			Name:        "get_server_status",
			Description: "Report sessions, scheduler counters and subsystem readiness",
			Subsystem:   host.SubsystemSystem,
			ThreadSafe:  true,
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				if deps.Status == nil {
					return map[string]interface{}{"status": "ok"}, nil
				}
				return deps.Status(), nil
			}),
		},
	}
}
