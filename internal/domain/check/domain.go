package check

import (
	"strings"
	"time"
)

// State is the health state derived from a check's most recent run.
type State string

const (
	StateNew      State = "new"
	StatePassing  State = "passing"
	StateFailing  State = "failing"
	StateError    State = "error"
	StateTimedOut State = "timed_out"
	StateDisabled State = "disabled"
)

// UnhealthyStates are the states that trigger failure notifications.
var UnhealthyStates = []State{StateFailing, StateError, StateTimedOut, StateDisabled}

func (s State) Unhealthy() bool {
	for _, u := range UnhealthyStates {
		if s == u {
			return true
		}
	}
	return false
}

type Check struct {
	ID              int64      `json:"id"`
	QueryID         int64      `json:"query_id"`
	QueryName       string     `json:"query_name"`
	Schedule        string     `json:"schedule"`
	State           State      `json:"state"`
	Recipients      string     `json:"recipients"`
	LastRun         *time.Time `json:"last_run"`
	LastStateChange *time.Time `json:"last_state_change"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RecipientList splits the serialized recipients column into addresses,
// dropping empties and surrounding whitespace.
func (c *Check) RecipientList() []string {
	if c.Recipients == "" {
		return nil
	}
	parts := strings.Split(c.Recipients, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
