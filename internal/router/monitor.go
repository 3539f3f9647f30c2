package router

import (
	"time"
)

// runMonitor ticks every healthCheckInterval and sweeps the registry for
// idle, disconnected, and zombie clients, directly adapted from the
// teacher's Hub liveness loop. Unlike a plain time.Ticker, the period is
// re-read before each wait so a config hot-reload's SetHealthCheckInterval
// call takes effect from the very next tick.
func (c *Core) runMonitor() {
	defer c.wg.Done()
	for {
		timer := time.NewTimer(c.HealthCheckInterval())
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.sweep()
		}
	}
}

// sweep applies the three-way liveness transition described in spec.md
// §9: a client moves to idle once its last activity exceeds twice the
// health-check period, is forcibly disconnected once it exceeds the
// configured inactivity timeout, and is separately reaped as a zombie
// when either of two independently-evaluated predicates holds — a
// record with no sink attached, or a sink attached whose own context
// has been cancelled. These are deliberately kept as two separate
// checks rather than collapsed into one derived flag.
func (c *Core) sweep() {
	idleThreshold := 2 * c.HealthCheckInterval()
	inactivityTimeout := c.InactivityTimeout()
	var zombies []string
	var disconnects []string
	var idled []string

	c.clients.Range(func(key, value any) bool {
		id := key.(string)
		rc := value.(*RouterClient)

		since := time.Since(rc.LastActivity())
		if since > inactivityTimeout {
			disconnects = append(disconnects, id)
			return true
		}
		if since > idleThreshold && rc.Status() != StatusIdle {
			rc.setStatus(StatusIdle)
			idled = append(idled, id)
		}

		cellAny, hasCell := c.cells.Load(id)
		recordWithoutSink := !hasCell
		sinkClosedWhileRecordPresent := false
		if hasCell {
			cell := cellAny.(*clientCell)
			if !cell.HasSink() {
				recordWithoutSink = true
			}
			sinkClosedWhileRecordPresent = cell.sinkClosed()
		}
		if recordWithoutSink || sinkClosedWhileRecordPresent {
			zombies = append(zombies, id)
		}
		return true
	})

	for _, id := range idled {
		c.events.Publish(RouterEvent{
			Type:        EventClientCapabilitiesUpdated,
			Data:        map[string]any{"client_id": id, "status": StatusIdle.String()},
			TimestampMs: nowMs(),
		})
	}
	for _, id := range disconnects {
		c.DisconnectClient(id, "inactivity_timeout")
	}
	for _, id := range zombies {
		c.DisconnectClient(id, "zombie connection")
	}
	if len(disconnects) > 0 || len(zombies) > 0 {
		c.emitTopologyChanged()
	}
}
