package check

import (
	"context"
	"time"
)

type Repo interface {
	GetByID(ctx context.Context, id int64) (*Check, error)
	// List returns checks whose schedule equals the given tier, in store
	// order. An empty tier selects every check.
	List(ctx context.Context, schedule string) ([]*Check, error)
	ListByStates(ctx context.Context, states []State) ([]*Check, error)
	// UpdateState persists a run outcome: the new state and the run
	// timestamp. last_state_change moves only when the state actually
	// changed.
	UpdateState(ctx context.Context, id int64, s State, ranAt time.Time) error
}
