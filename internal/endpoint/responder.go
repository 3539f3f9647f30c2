package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/webitel/rpcmesh/internal/callengine"
	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/interceptor"
	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/transport"
)

// Responder is the C5 server side: it watches a transport for new-stream
// header frames, looks up the method path in its registered contracts,
// and dispatches each call to its handler on its own goroutine, the way
// the teacher's gRPC handler spawns one event loop per incoming stream.
type Responder struct {
	tr  transport.Transport
	cdc codec.Codec
	log *slog.Logger

	mu      sync.RWMutex
	methods map[string]*MethodDescriptor

	chain interceptor.Interceptor
}

// NewResponder builds a Responder bound to one transport and codec, with
// recovery and call logging applied to every dispatched method by
// default. Use Use to install additional interceptors (they run inside
// the default chain, closest to the handler).
func NewResponder(tr transport.Transport, cdc codec.Codec, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	r := &Responder{tr: tr, cdc: cdc, log: log, methods: make(map[string]*MethodDescriptor)}
	r.chain = interceptor.Chain(interceptor.Recovery(log), interceptor.Tracing("rpcmesh/router"), interceptor.Logging(log))
	return r
}

// Use replaces the responder's interceptor chain with one that also runs
// extra inside Recovery, Tracing and Logging, in the order given (the
// first of extra outermost) — so a panic or error inside extra is still
// caught and logged.
func (r *Responder) Use(extra ...interceptor.Interceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append([]interceptor.Interceptor{interceptor.Recovery(r.log), interceptor.Tracing("rpcmesh/router"), interceptor.Logging(r.log)}, extra...)
	r.chain = interceptor.Chain(all...)
}

// Register adds every method of contract to the dispatch table. Later
// contracts win on path collision, logged as a warning since it almost
// always indicates a registration bug.
func (r *Responder) Register(contract *ServiceContract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, desc := range contract.Methods() {
		if _, exists := r.methods[path]; exists {
			r.log.Warn("endpoint: method path re-registered", "path", path)
		}
		r.methods[path] = desc
	}
}

func (r *Responder) lookup(path string) (*MethodDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.methods[path]
	return d, ok
}

// Serve pumps the transport's new-stream headers until ctx is cancelled or
// the transport closes.
func (r *Responder) Serve(ctx context.Context) error {
	dispatched := make(map[uint32]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-r.tr.Messages():
			if !ok {
				return nil
			}
			if !msg.IsMetadataOnly() {
				// a payload frame for a stream this responder hasn't
				// dispatched yet; the per-stream goroutine consumes it
				// from StreamMessages once dispatched, so drop here.
				continue
			}
			if _, seen := dispatched[msg.StreamID]; seen {
				// a trailer or end-of-stream marker on a stream already
				// handed to its own goroutine, not a new stream.
				continue
			}
			dispatched[msg.StreamID] = struct{}{}
			go r.dispatch(ctx, msg)
		}
	}
}

func (r *Responder) dispatch(ctx context.Context, header *transport.TransportMessage) {
	path := ""
	if header.Metadata != nil {
		path, _ = header.Metadata.Get(transport.KeyPath)
	}

	desc, ok := r.lookup(path)
	if !ok {
		call := callengine.NewCall(r.tr, header.StreamID, callengine.Unary, callengine.RoleResponder)
		_ = call.Cancel(ctx, rpcstatus.Unimplemented, fmt.Sprintf("unknown method %q", path))
		call.Close()
		return
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if header.Metadata != nil {
		if raw, ok := header.Metadata.Get(transport.KeyGRPCTimeout); ok {
			if d, err := callengine.ParseTimeout(raw); err == nil {
				callCtx, cancel = context.WithTimeout(ctx, d)
			}
		}
	}
	if cancel == nil {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	call := callengine.NewCall(r.tr, header.StreamID, desc.Kind, callengine.RoleResponder)
	call.SetCancelFunc(cancel)
	defer call.Close()

	info := &interceptor.CallInfo{Path: path, Kind: desc.Kind}
	if header.Metadata != nil {
		info.Metadata = *header.Metadata
	}
	r.mu.RLock()
	chain := r.chain
	r.mu.RUnlock()
	_ = chain(callCtx, info, func(ctx context.Context) error {
		return desc.serve(ctx, call, r.cdc)
	})
}
