package adapters

import (
	"context"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

var creatableAssetKinds = []string{
	string(host.KindMaterial),
	string(host.KindDataTable),
	string(host.KindRenderTarget),
	string(host.KindSoundAttenuation),
}

func assetCommands(deps Deps) []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:        "create_asset",
			Description: "Create an empty asset of a simple kind",
			Subsystem:   host.SubsystemAsset,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "path", Type: registry.TypeString, Required: true, Description: "Full asset path, e.g. /Game/Materials/M_Rock"},
				{Name: "kind", Type: registry.TypeString, Required: true, Description: "Material, DataTable, RenderTarget or SoundAttenuation"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return oneOf(p, "kind", creatableAssetKinds...) },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.CreateAsset(host.AssetKind(str(p, "kind")), str(p, "path"))
					if err != nil {
						return nil, err
					}
					return assetMap(info), nil
				}),
		},
		{
			Name:        "import_asset",
			Description: "Import a texture, sound, mesh or table from a source file",
			Subsystem:   host.SubsystemAsset,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "source_file", Type: registry.TypeString, Required: true, Description: "Path of the file on disk"},
				{Name: "destination_path", Type: registry.TypeString, Default: "/Game/Imported", Description: "Content folder to import into"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error { return nonEmpty(p, "source_file") },
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					info, err := deps.Assets.ImportAsset(str(p, "source_file"), str(p, "destination_path"))
					if err != nil {
						return nil, err
					}
					out := assetMap(info)
					out["source_file"] = str(p, "source_file")
					return out, nil
				}),
		},
		{
			Name:        "save_asset",
			Description: "Save an asset to disk",
			Subsystem:   host.SubsystemAsset,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "path", Type: registry.TypeString, Required: true, Description: "Asset path or name"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				info, err := deps.Assets.SaveAsset(str(p, "path"))
				if err != nil {
					return nil, err
				}
				out := assetMap(info)
				out["saved"] = true
				return out, nil
			}),
		},
		{
			Name:        "list_assets",
			Description: "List assets under a content folder",
			Subsystem:   host.SubsystemAsset,
			Params: []registry.ParamSpec{
				{Name: "prefix", Type: registry.TypeString, Default: "/Game", Description: "Path prefix"},
				{Name: "kind", Type: registry.TypeString, Description: "Only list assets of this kind"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				assets := deps.Assets.ListAssets(str(p, "prefix"), host.AssetKind(str(p, "kind")))
				list := make([]interface{}, 0, len(assets))
				for _, a := range assets {
					list = append(list, assetMap(a))
				}
				return map[string]interface{}{"assets": list, "count": len(list)}, nil
			}),
		},
		{
			Name:        "delete_asset",
			Description: "Delete an asset",
			Subsystem:   host.SubsystemAsset,
			Mutates:     true,
			Params: []registry.ParamSpec{
				{Name: "path", Type: registry.TypeString, Required: true, Description: "Asset path or name"},
			},
			Handler: registry.Handle(func(ctx context.Context, p protocol.Params) (interface{}, error) {
				if err := deps.Assets.DeleteAsset(str(p, "path")); err != nil {
					return nil, err
				}
				return map[string]interface{}{"deleted": true, "path": str(p, "path")}, nil
			}),
		},
	}
}
