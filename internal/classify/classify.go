// Package classify decides whether a backend error is worth retrying.
//
// There is no error-code standard shared across SQL backends, so
// classification is substring matching against a table of known
// transient-failure phrases. The table is data: supporting a new backend's
// wording means appending rules, not touching logic.
package classify

import (
	"errors"
	"strings"
)

// StatementTimedOut is the canonical error text for a statement that hit
// its configured timeout, regardless of how the backend words it.
const StatementTimedOut = "statement timed out"

type Class int

const (
	Terminal Class = iota
	Timeout
	ConnectionLost
)

func (c Class) String() string {
	switch c {
	case Timeout:
		return "timeout"
	case ConnectionLost:
		return "connection_lost"
	default:
		return "terminal"
	}
}

type rule struct {
	class   Class
	pattern string
	// prefix rules anchor at the start of the error text; everything else
	// matches anywhere.
	prefix bool
}

// rules maps known backend error phrasings to a class. Additive only:
// new backend families append their wording here.
var rules = []rule{
	// The engine's own sentinel plus per-backend statement-timeout wording.
	{class: Timeout, pattern: StatementTimedOut},
	{class: Timeout, pattern: "canceling statement due to statement timeout"}, // postgres
	{class: Timeout, pattern: "query execution was interrupted"},              // mysql
	{class: Timeout, pattern: "maximum statement execution time exceeded"},    // mysql
	{class: Timeout, pattern: "interrupted"},                                  // sqlite
	{class: Timeout, pattern: "context deadline exceeded"},

	// Connection drops.
	{class: ConnectionLost, pattern: "driver: bad connection", prefix: true},
	{class: ConnectionLost, pattern: "connection reset by peer"},
	{class: ConnectionLost, pattern: "broken pipe"},
	{class: ConnectionLost, pattern: "unexpected EOF"},
	{class: ConnectionLost, pattern: "server closed the connection"},
	{class: ConnectionLost, pattern: "the database system is"}, // postgres startup/shutdown
	{class: ConnectionLost, pattern: "connection refused"},
}

// Classify maps raw backend error text to a class. Unknown errors are
// Terminal: only recognized transient phrasings earn a retry.
func Classify(text string) Class {
	for _, r := range rules {
		if r.prefix {
			if strings.HasPrefix(text, r.pattern) {
				return r.class
			}
			continue
		}
		if strings.Contains(text, r.pattern) {
			return r.class
		}
	}
	return Terminal
}

// Error carries a classified backend failure through the retry loop.
type Error struct {
	Class Class
	Text  string
}

func (e *Error) Error() string { return e.Text }

// ClassOf extracts the class from an error produced by the run loop.
// Anything that is not a classified error counts as Terminal.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Terminal
}
