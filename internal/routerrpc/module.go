package routerrpc

import (
	"go.uber.org/fx"

	"github.com/webitel/rpcmesh/internal/endpoint"
)

// Module wires Service into the application's fx graph and exposes its
// built ServiceContract as a named value so both transport listeners can
// register the same contract set without constructing it twice.
var Module = fx.Module("router-rpc",
	fx.Provide(
		NewService,
		func(s *Service) *ServiceContracts {
			return &ServiceContracts{Router: s.Contract()}
		},
	),
)

// ServiceContracts collects every ServiceContract the application
// exposes over its transports. A struct (rather than a bare slice) so
// fx can provide it as a single named value that grows new fields as
// more services are added without breaking existing providers.
type ServiceContracts struct {
	Router *endpoint.ServiceContract
}

// All returns every contract as a flat slice, the shape both the grpc
// and ws listeners' ContractProvider expect.
func (c *ServiceContracts) All() []*endpoint.ServiceContract {
	return []*endpoint.ServiceContract{c.Router}
}
