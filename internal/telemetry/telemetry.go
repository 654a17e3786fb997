package telemetry

import (
	"context"
	"time"

	"github.com/sqlwatch/sqlwatch/internal/domain/check"
)

// RunEvent is the structured record emitted once per check run.
type RunEvent struct {
	CheckID   int64       `json:"check_id"`
	QueryID   int64       `json:"query_id"`
	PrevState check.State `json:"prev_state"`
	NewState  check.State `json:"new_state"`
	RowCount  *int        `json:"row_count,omitempty"` // absent when the run errored
	Err       string      `json:"error,omitempty"`
	Attempts  int         `json:"attempts"`
	At        time.Time   `json:"at"`
}

type Sink interface {
	RecordRun(ctx context.Context, ev RunEvent) error
}

// NopSink discards events; used in tests and brokerless deployments.
type NopSink struct{}

func (NopSink) RecordRun(context.Context, RunEvent) error { return nil }
