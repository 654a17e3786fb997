package run

import (
	"time"

	"github.com/sqlwatch/sqlwatch/internal/domain/check"
)

// Record is one persisted check execution.
type Record struct {
	ID        int64       `json:"id"`
	CheckID   int64       `json:"check_id"`
	Timestamp time.Time   `json:"timestamp"`
	State     check.State `json:"state"`
	RowCount  *int        `json:"row_count"` // nil when the run errored
	Err       string      `json:"error"`
	Attempts  int         `json:"attempts"`
}
