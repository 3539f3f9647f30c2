package router

import "go.uber.org/fx"

// Module wires Core into the application's fx graph, exposing it both
// as the concrete type and as the narrower Registry interface —
// directly adapted from the teacher's registry.Module annotation idiom.
var Module = fx.Module("router",
	fx.Provide(
		NewCore,
		fx.Annotate(
			func(c *Core) Registry { return c },
			fx.As(new(Registry)),
		),
	),
)
