package interceptor

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/webitel/rpcmesh/internal/rpcstatus"
)

// Recovery converts a panicking handler into an Internal error instead of
// taking down the goroutine Responder.dispatch spawned for the call.
func Recovery(log *slog.Logger) Interceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, info *CallInfo, handler Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("rpc handler panicked", "path", info.Path, "panic", r, "stack", string(debug.Stack()))
				err = rpcstatus.New(rpcstatus.Internal, "panic in handler for %q: %v", info.Path, r)
			}
		}()
		return handler(ctx)
	}
}
