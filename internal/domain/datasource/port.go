package datasource

import "context"

// Client executes statements against one backend.
type Client interface {
	// RunStatement executes under the source's configured timeout. A
	// timeout surfaces as the classify.StatementTimedOut sentinel in
	// Outcome.Err; every other failure keeps its raw error text. When
	// forceRefresh is false a fresh-enough cached outcome is returned
	// instead of hitting the backend.
	RunStatement(ctx context.Context, stmt string, forceRefresh bool) Outcome
	// Reconnect re-establishes the backend connection. It is synchronous
	// and idempotent: on a healthy connection it is a no-op success.
	Reconnect(ctx context.Context) error
	Conf() Config
	Close() error
}

// Resolver maps a logical data-source identifier to its client.
type Resolver interface {
	Resolve(id string) Client
}
