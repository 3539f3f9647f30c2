package interceptor

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs one line per call with its path, kind and elapsed time, at
// Warn when the handler fails and at Debug otherwise. endpoint.Responder
// installs it innermost in its default chain, inside Recovery and Tracing.
func Logging(log *slog.Logger) Interceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, info *CallInfo, handler Handler) error {
		start := time.Now()
		err := handler(ctx)
		elapsed := time.Since(start)
		if err != nil {
			log.Warn("rpc call failed", "path", info.Path, "kind", info.Kind, "elapsed", elapsed, "err", err)
			return err
		}
		log.Debug("rpc call served", "path", info.Path, "kind", info.Kind, "elapsed", elapsed)
		return nil
	}
}
