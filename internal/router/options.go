package router

import (
	"log/slog"
	"time"
)

// Option configures a Core at construction time.
type Option func(*Core)

// WithHealthCheckInterval sets the liveness monitor's tick period.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(c *Core) { c.SetHealthCheckInterval(d) }
}

// WithInactivityTimeout sets the period of silence after which a client
// is forcibly disconnected.
func WithInactivityTimeout(d time.Duration) Option {
	return func(c *Core) { c.SetInactivityTimeout(d) }
}

// WithMailboxSize sets the buffer depth of each client's mailbox.
func WithMailboxSize(n int) Option {
	return func(c *Core) { c.mailboxSize = n }
}

// WithLogger overrides the registry's structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Core) {
		if log != nil {
			c.log = log
		}
	}
}
