package scheduler

import (
	"context"
	"errors"

	"github.com/morezero/editor-bridge/pkg/host"
	"github.com/morezero/editor-bridge/pkg/protocol"
)

// Classify maps a handler error to a response error. Protocol errors pass
// through unchanged.
func Classify(err error) *protocol.Error {
	if err == nil {
		return nil
	}
	if pe, ok := protocol.AsError(err); ok {
		return pe
	}
	var ref *host.RefError
	if errors.As(err, &ref) && ref.What == host.RefGraph && errors.Is(ref.Err, host.ErrNotFound) {
		return protocol.NewError(protocol.KindAdapter, "graph not found").WithDetail("graph", ref.Ref)
	}
	switch {
	case errors.Is(err, host.ErrInvalid):
		return protocol.NewError(protocol.KindValidation, err.Error())
	case errors.Is(err, host.ErrNotFound), errors.Is(err, host.ErrExists):
		return protocol.NewError(protocol.KindAdapter, err.Error())
	case errors.Is(err, host.ErrBusy), errors.Is(err, host.ErrNotReady), errors.Is(err, host.ErrLoopStopped):
		return protocol.NewError(protocol.KindHostNotReady, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.NewError(protocol.KindTimeout, err.Error())
	default:
		return protocol.NewError(protocol.KindInternal, err.Error())
	}
}
