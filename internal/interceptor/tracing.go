package interceptor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps every dispatched call in an otel span named after its
// method path, the way the teacher's otelgrpc stats handler traces its
// own fixed gRPC service — generalized here to the framework's open set
// of call-kind-agnostic handlers instead of one service's methods.
func Tracing(tracerName string) Interceptor {
	tracer := otel.Tracer(tracerName)
	return func(ctx context.Context, info *CallInfo, handler Handler) error {
		ctx, span := tracer.Start(ctx, info.Path, trace.WithAttributes(
			attribute.String("rpc.call_kind", info.Kind.String()),
		))
		defer span.End()

		err := handler(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
