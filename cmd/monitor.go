package cmd

import (
	"context"
	"fmt"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/diagnostics"
	"github.com/webitel/rpcmesh/internal/endpoint"
	"github.com/webitel/rpcmesh/internal/router"
	"github.com/webitel/rpcmesh/internal/routerrpc"
	"github.com/webitel/rpcmesh/internal/transport"
)

// monitorCmd subscribes to a running router's events() stream and
// renders router_stats/topology_changed/health_warning as a live
// termui dashboard, giving the teacher's go.mod-only termui/termbox-go
// dependencies their first real consumer.
func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Attach a live dashboard to a running router's event stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "gRPC address of the router to monitor",
				Value: "127.0.0.1:8822",
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.Context, c.String("addr"))
		},
	}
}

func runMonitor(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("monitor: dial %q: %w", addr, err)
	}
	defer conn.Close()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wireTr, err := transport.DialWireTransport(dialCtx, conn)
	if err != nil {
		return fmt.Errorf("monitor: open wire stream: %w", err)
	}
	defer wireTr.Close()

	ep := endpoint.NewCallerEndpoint(wireTr, codec.JSON{})
	recv, err := endpoint.CallServerStream[routerrpc.Null, router.RouterEvent](dialCtx, ep, "/router/events", routerrpc.Null{})
	if err != nil {
		return fmt.Errorf("monitor: subscribe events: %w", err)
	}

	if err := ui.Init(); err != nil {
		return fmt.Errorf("monitor: termui init: %w", err)
	}
	defer ui.Close()

	stats := widgets.NewParagraph()
	stats.Title = "router_stats"
	stats.SetRect(0, 0, 60, 7)

	warnings := widgets.NewList()
	warnings.Title = "health_warning / topology_changed"
	warnings.SetRect(0, 7, 60, 20)
	warnings.WrapText = true

	render := func() {
		ui.Render(stats, warnings)
	}
	render()

	events := make(chan router.RouterEvent, 16)
	go func() {
		defer close(events)
		for {
			ev, err := recv(dialCtx)
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-dialCtx.Done():
				return
			}
		}
	}()

	uiEvents := ui.PollEvents()
	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			applyEvent(stats, warnings, ev)
			render()
		case <-ctx.Done():
			return nil
		}
	}
}

func applyEvent(stats *widgets.Paragraph, warnings *widgets.List, ev router.RouterEvent) {
	switch ev.Type {
	case router.EventRouterStats:
		stats.Text = fmt.Sprintf(
			"active_clients: %v\nidle_clients: %v\ngroup_counts: %v\nupdated: %s",
			ev.Data["active_clients"], ev.Data["idle_clients"], ev.Data["group_counts"],
			time.UnixMilli(ev.TimestampMs).Format(time.TimeOnly),
		)
	case router.EventHealthWarning:
		if hw, ok := diagnostics.ParseHealthWarning(ev); ok {
			line := fmt.Sprintf("[%s] health_warning: %s (%s)",
				time.UnixMilli(hw.TimestampMs).Format(time.TimeOnly), hw.SubscriberID, hw.Reason)
			warnings.Rows = append([]string{line}, warnings.Rows...)
		}
	default:
		line := fmt.Sprintf("[%s] %s", time.UnixMilli(ev.TimestampMs).Format(time.TimeOnly), ev.Type)
		warnings.Rows = append([]string{line}, warnings.Rows...)
	}
	if len(warnings.Rows) > 50 {
		warnings.Rows = warnings.Rows[:50]
	}
}
