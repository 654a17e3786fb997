package datasource

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/cache"
	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
)

// Registry resolves logical data-source identifiers to clients. It is
// built once from configuration and never mutated afterwards; it is
// passed by handle into the dispatcher and runner rather than living in
// process-wide state.
type Registry struct {
	order   []string
	clients map[string]ds.Client
	log     *zap.Logger
}

var _ ds.Resolver = (*Registry)(nil)

// NewRegistry wraps an already-built set of clients, preserving order.
// The first client is the fallback for unknown identifiers.
func NewRegistry(clients []ds.Client, log *zap.Logger) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("no data sources configured")
	}
	r := &Registry{
		clients: make(map[string]ds.Client, len(clients)),
		log:     log.With(zap.String("component", "datasource.registry")),
	}
	for _, c := range clients {
		id := c.Conf().ID
		if _, dup := r.clients[id]; dup {
			return nil, fmt.Errorf("duplicate data source id %q", id)
		}
		r.order = append(r.order, id)
		r.clients[id] = c
	}
	return r, nil
}

// OpenAll builds SQL clients for every configured source and wraps them
// in a registry, in configuration order.
func OpenAll(cfgs []ds.Config, results *cache.ResultCache, log *zap.Logger) (*Registry, error) {
	clients := make([]ds.Client, 0, len(cfgs))
	for _, cfg := range cfgs {
		c, err := Open(cfg, results, log)
		if err != nil {
			for _, opened := range clients {
				_ = opened.Close()
			}
			return nil, err
		}
		clients = append(clients, c)
	}
	return NewRegistry(clients, log)
}

// Resolve returns the client for id, falling back to the first configured
// source when the id is unknown. The fallback keeps a stale query record
// runnable after a source rename; the mismatch is logged.
func (r *Registry) Resolve(id string) ds.Client {
	if c, ok := r.clients[id]; ok {
		return c
	}
	first := r.order[0]
	r.log.Warn("unknown data source, using first configured",
		zap.String("requested", id), zap.String("fallback", first))
	return r.clients[first]
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Close() error {
	var firstErr error
	for _, id := range r.order {
		if err := r.clients[id].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
