package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	lognoop "go.opentelemetry.io/otel/log/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/rpcmesh/config"
	grpcsrv "github.com/webitel/rpcmesh/infra/server/grpc"
	httpsrv "github.com/webitel/rpcmesh/infra/server/http"
	wssrv "github.com/webitel/rpcmesh/infra/server/ws"
	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/router"
	"github.com/webitel/rpcmesh/internal/routerrpc"
)

// NewApp assembles the full rpcmesh server graph, the way the teacher's
// own cmd.NewApp wires postgres/service/grpchandler/grpcsrv modules
// together — generalized here to router.Module + routerrpc.Module plus
// the three transport listeners this repo adds.
func NewApp(cfg *config.Config, v *viper.Viper) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			newLogger,
			func() codec.Codec { return codec.JSON{} },
		),
		router.Module,
		routerrpc.Module,
		fx.Provide(
			func(contracts *routerrpc.ServiceContracts) grpcsrv.ContractProvider {
				return contracts.All
			},
			func(contracts *routerrpc.ServiceContracts) wssrv.ContractProvider {
				return contracts.All
			},
			grpcsrv.NewServer,
			func(cp wssrv.ContractProvider, cdc codec.Codec, log *slog.Logger) *wssrv.Handler {
				return wssrv.NewHandler(cp, cdc, log, nil)
			},
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			cfg *config.Config,
			core *router.Core,
			grpcServer *grpcsrv.Server,
			wsHandler *wssrv.Handler,
			log *slog.Logger,
		) error {
			if v != nil {
				config.Watch(v, core, log)
			}

			tp := sdktrace.NewTracerProvider()
			otel.SetTracerProvider(tp)
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return tp.Shutdown(ctx) },
			})

			if cfg.BridgeAMQPURL != "" {
				nodeID, _ := os.Hostname()
				bridge, err := newAMQPEventBridge(core, cfg.BridgeAMQPURL, cfg.BridgeAMQPTopic, nodeID, log)
				if err != nil {
					return fmt.Errorf("cmd: event bridge: %w", err)
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error { return bridge.Close() },
				})
			}

			mux := http.NewServeMux()
			mux.Handle("/ws", wsHandler)
			mux.Handle("/", httpsrv.NewAdminRouter(core))
			httpServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1), Handler: mux}

			grpcLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
			if err != nil {
				return fmt.Errorf("cmd: listen grpc: %w", err)
			}

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						if err := grpcServer.Serve(grpcLis); err != nil {
							log.Error("grpc server stopped", "err", err)
						}
					}()
					go func() {
						if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
							log.Error("http server stopped", "err", err)
						}
					}()
					log.Info("rpcmesh listening", "grpc_addr", grpcLis.Addr(), "http_addr", httpServer.Addr)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					g, gCtx := errgroup.WithContext(ctx)
					g.Go(func() error {
						grpcServer.GracefulStop()
						return nil
					})
					g.Go(func() error {
						return httpServer.Shutdown(gCtx)
					})
					return g.Wait()
				},
			})
			return nil
		}),
	)
}

// newLogger builds the process-wide *slog.Logger on top of otelslog's
// bridge handler, so every log record is also emitted as an
// OpenTelemetry log record alongside its slog text — the same
// log/trace correlation the teacher gets for free from its gRPC
// otelgrpc stats handler, extended here to the structured logger
// itself. No collector endpoint is configured yet, so records flow
// through a no-op log provider: the bridge is live, the export is not.
func newLogger() *slog.Logger {
	handler := otelslog.NewHandler("rpcmesh", otelslog.WithLoggerProvider(lognoop.NewLoggerProvider()))
	return slog.New(handler)
}

// newAMQPEventBridge backs router.EventBridge with a real broker
// connection, one durable queue per node bound to a shared topic
// exchange — the same per-node-queue/shared-exchange shape as the
// teacher's internal/handler/amqp/router.go, now carried by
// watermill-amqp/v3's own publisher/subscriber pair instead of the
// teacher's retrieved-but-absent infra/pubsub/factory wrapper around it.
func newAMQPEventBridge(core *router.Core, amqpURL, topic, nodeID string, log *slog.Logger) (*router.EventBridge, error) {
	wmLogger := watermill.NewSlogLogger(log)
	pubSubConfig := amqp.NewDurablePubSubConfig(amqpURL, amqp.GenerateQueueNameTopicNameWithSuffix(nodeID))

	publisher, err := amqp.NewPublisher(pubSubConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	subscriber, err := amqp.NewSubscriber(pubSubConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}

	return router.NewEventBridge(core, publisher, subscriber, topic, nodeID, log)
}
