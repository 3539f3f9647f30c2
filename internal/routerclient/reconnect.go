package routerclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/transport"
)

// ConnState is a reconnect wrapper's externally observable lifecycle
// state.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateWaiting      ConnState = "waiting"
	StateReconnecting ConnState = "reconnecting"
	StateStopped      ConnState = "stopped"
)

// Strategy computes the delay before the nth reconnect attempt (1-indexed).
type Strategy func(attempt int) time.Duration

// FixedStrategy retries every d regardless of attempt count.
func FixedStrategy(d time.Duration) Strategy {
	return func(int) time.Duration { return d }
}

// LinearStrategy grows the delay by step per attempt, capped at max.
func LinearStrategy(base, step, max time.Duration) Strategy {
	return func(attempt int) time.Duration {
		d := base + step*time.Duration(attempt-1)
		if d > max {
			return max
		}
		return d
	}
}

// ExponentialStrategy delegates to cenkalti/backoff/v5's
// ExponentialBackOff, which grows the delay by the library's default
// multiplier (1.5) each call up to max and
// applies its own randomization factor as jitter. Callers are expected
// to invoke the returned Strategy with strictly increasing attempt
// numbers, matching how Reconnector.Run drives it.
func ExponentialStrategy(base, max time.Duration, jitterFactor float64) Strategy {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = max
	eb.RandomizationFactor = jitterFactor
	return func(int) time.Duration {
		return eb.NextBackOff()
	}
}

// Reconnector owns a Client's transport lifetime and reconnect policy. On
// every successful reconnect it replays register → initialize_p2p using
// the parameters retained from the last successful Register call.
type Reconnector struct {
	dial        func(ctx context.Context) (transport.Transport, error)
	codec       codec.Codec
	strategy    Strategy
	maxAttempts int
	log         *slog.Logger

	breaker *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	state  ConnState
	client *Client

	name       string
	groups     []string
	metadata   map[string]any
	onEvents   func(*Client)
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// ReconnectorOption configures a Reconnector.
type ReconnectorOption func(*Reconnector)

// WithStrategy overrides the default fixed-1s strategy.
func WithStrategy(s Strategy) ReconnectorOption {
	return func(r *Reconnector) { r.strategy = s }
}

// WithMaxAttempts bounds the number of reconnect attempts; 0 means
// unbounded.
func WithMaxAttempts(n int) ReconnectorOption {
	return func(r *Reconnector) { r.maxAttempts = n }
}

// WithBreaker installs a circuit breaker guarding dial attempts per
// target, grounded on sony/gobreaker's three-state model.
func WithBreaker(cb *gobreaker.CircuitBreaker) ReconnectorOption {
	return func(r *Reconnector) { r.breaker = cb }
}

// WithReconnectLogger overrides the reconnector's structured logger.
func WithReconnectLogger(log *slog.Logger) ReconnectorOption {
	return func(r *Reconnector) {
		if log != nil {
			r.log = log
		}
	}
}

// NewReconnector builds a Reconnector that dials new transports via dial
// and encodes with cdc.
func NewReconnector(dial func(ctx context.Context) (transport.Transport, error), cdc codec.Codec, opts ...ReconnectorOption) *Reconnector {
	r := &Reconnector{
		dial:     dial,
		codec:    cdc,
		strategy: FixedStrategy(time.Second),
		log:      slog.Default(),
		state:    StateDisconnected,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "router-client-dial"})
	}
	return r
}

// State returns the reconnector's current lifecycle state.
func (r *Reconnector) State() ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reconnector) setState(s ConnState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Connect dials once, registers name/groups/metadata, opens the p2p
// stream, and retains the identity for future reconnects.
func (r *Reconnector) Connect(ctx context.Context, name string, groups []string, metadata map[string]any) error {
	r.name, r.groups, r.metadata = name, groups, metadata
	return r.dialAndInitialize(ctx)
}

func (r *Reconnector) dialAndInitialize(ctx context.Context) error {
	r.setState(StateReconnecting)
	tr, err := r.breaker.Execute(func() (any, error) { return r.dial(ctx) })
	if err != nil {
		r.setState(StateDisconnected)
		return err
	}

	c := New(tr.(transport.Transport), r.codec)
	if _, err := c.Register(ctx, r.name, r.groups, r.metadata); err != nil {
		r.setState(StateDisconnected)
		return err
	}
	if err := c.InitializeP2P(ctx); err != nil {
		r.setState(StateDisconnected)
		return err
	}

	r.mu.Lock()
	r.client = c
	r.mu.Unlock()
	r.setState(StateConnected)
	return nil
}

// Client returns the currently active Client, or nil while disconnected.
func (r *Reconnector) Client() *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Run watches the active client's stream for loss and drives the
// reconnect loop per the configured strategy until Stop is called or
// maxAttempts is exhausted.
func (r *Reconnector) Run(ctx context.Context) {
	for {
		c := r.Client()
		if c == nil {
			return
		}
		select {
		case <-c.pumpDone:
		case <-r.stopCh:
			r.setState(StateStopped)
			return
		case <-ctx.Done():
			r.setState(StateStopped)
			return
		}

		r.setState(StateDisconnected)
		r.log.Warn("router client connection lost, reconnecting")

		attempt := 0
		for {
			attempt++
			if r.maxAttempts > 0 && attempt > r.maxAttempts {
				r.setState(StateStopped)
				r.log.Error("router client exhausted reconnect attempts", slog.Int("attempts", attempt-1))
				return
			}

			r.setState(StateWaiting)
			delay := r.strategy(attempt)
			select {
			case <-time.After(delay):
			case <-r.stopCh:
				r.setState(StateStopped)
				return
			case <-ctx.Done():
				r.setState(StateStopped)
				return
			}

			if err := r.dialAndInitialize(ctx); err != nil {
				r.log.Warn("reconnect attempt failed", slog.Int("attempt", attempt), slog.Any("err", err))
				continue
			}
			break
		}
	}
}

// Stop halts the reconnect loop and closes the active client, if any.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if c := r.Client(); c != nil {
			c.Close()
		}
		r.setState(StateStopped)
	})
}
