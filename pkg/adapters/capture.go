package adapters

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
	"github.com/morezero/editor-bridge/pkg/registry"
)

const maxThumbnailSize = 2048

func captureCommands(deps Deps) []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:        "capture_thumbnail",
			Description: "Render an asset preview and return it as a PNG",
			Subsystem:   host.SubsystemCapture,
			Params: []registry.ParamSpec{
				{Name: "asset_path", Type: registry.TypeString, Required: true, Description: "Asset path or name"},
				{Name: "width", Type: registry.TypeInt, Default: 256, Description: "Width in pixels"},
				{Name: "height", Type: registry.TypeInt, Default: 256, Description: "Height in pixels"},
			},
			Handler: registry.HandleValidated(
				func(p protocol.Params) error {
					for _, dim := range []string{"width", "height"} {
						if n := integer(p, dim); n < 1 || n > maxThumbnailSize {
							return protocol.Errorf(protocol.KindValidation, "%s must be between 1 and %d", dim, maxThumbnailSize)
						}
					}
					return nil
				},
				func(ctx context.Context, p protocol.Params) (interface{}, error) {
					img, err := deps.Pixels.ReadPixels(str(p, "asset_path"), integer(p, "width"), integer(p, "height"))
					if err != nil {
						return nil, err
					}
					var buf bytes.Buffer
					if err := png.Encode(&buf, img); err != nil {
						return nil, fmt.Errorf("%s - failed to encode thumbnail: %w", logPrefix, err)
					}
					return map[string]interface{}{
						"asset_path": str(p, "asset_path"),
						"image": &protocol.Blob{
							MimeType: "image/png",
							Width:    img.Bounds().Dx(),
							Height:   img.Bounds().Dy(),
							Data:     buf.Bytes(),
						},
					}, nil
				}),
		},
	}
}
