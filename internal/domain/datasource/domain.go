package datasource

import "time"

// Config describes one backend. One client instance exists per ID and is
// shared by every check whose query references it; that shared connection
// is the unit of reconnect-on-failure.
type Config struct {
	ID               string        `mapstructure:"id"`
	Driver           string        `mapstructure:"driver"`
	DSN              string        `mapstructure:"dsn"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	Reconnectable    bool          `mapstructure:"reconnectable"`
}

// Outcome is the normalized result of one statement execution. It is never
// persisted; the runner consumes it immediately.
type Outcome struct {
	Columns  []string   `json:"columns"`
	Rows     [][]string `json:"rows"`
	Err      string     `json:"error,omitempty"`
	CachedAt *time.Time `json:"cached_at,omitempty"`
}

func (o Outcome) Failed() bool { return o.Err != "" }
