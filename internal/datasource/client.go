// Package datasource implements execution of statements against SQL
// backends over database/sql, with per-source timeouts, result caching
// and a reconnect contract for dropped connections.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/cache"
	"github.com/sqlwatch/sqlwatch/internal/classify"
	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
)

const pingTimeout = 2 * time.Second

// SQLClient runs statements against one backend through a database/sql
// handle. The handle is shared by every check referencing this source;
// Reconnect swaps it under a mutex while in-flight statements keep the
// old handle and fail cleanly if it dies under them.
type SQLClient struct {
	cfg     ds.Config
	results *cache.ResultCache
	log     *zap.Logger

	mu sync.Mutex // guards db handle swap
	db *sql.DB
}

var _ ds.Client = (*SQLClient)(nil)

// Open creates a client for one configured source. database/sql connects
// lazily, so a backend that is down at startup only fails once a
// statement runs against it.
func Open(cfg ds.Config, results *cache.ResultCache, log *zap.Logger) (*SQLClient, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open data source %q: %w", cfg.ID, err)
	}
	return &SQLClient{
		cfg:     cfg,
		results: results,
		db:      db,
		log:     log.With(zap.String("component", "datasource"), zap.String("data_source", cfg.ID)),
	}, nil
}

func (c *SQLClient) Conf() ds.Config { return c.cfg }

func (c *SQLClient) handle() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// RunStatement executes stmt and returns a normalized outcome. All
// failures are captured in Outcome.Err, never returned as an error: a
// timeout becomes the classify.StatementTimedOut sentinel, anything else
// keeps the backend's raw wording for classification downstream.
func (c *SQLClient) RunStatement(ctx context.Context, stmt string, forceRefresh bool) ds.Outcome {
	if !forceRefresh {
		if out, ok := c.results.Lookup(c.cfg.ID, stmt); ok {
			c.log.Debug("cache hit", zap.Timep("cached_at", out.CachedAt))
			return out
		}
	}

	out := c.execute(ctx, stmt)
	if !out.Failed() {
		c.results.Store(c.cfg.ID, stmt, out, c.cfg.CacheTTL)
	}
	return out
}

func (c *SQLClient) execute(ctx context.Context, stmt string) ds.Outcome {
	if c.cfg.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StatementTimeout)
		defer cancel()
	}

	rows, err := c.handle().QueryContext(ctx, stmt)
	if err != nil {
		return c.failure(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return c.failure(ctx, err)
	}

	out := ds.Outcome{Columns: cols, Rows: [][]string{}}
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return c.failure(ctx, err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return c.failure(ctx, err)
	}
	return out
}

func (c *SQLClient) failure(ctx context.Context, err error) ds.Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ds.Outcome{Err: classify.StatementTimedOut}
	}
	return ds.Outcome{Err: err.Error()}
}

// Reconnect re-establishes the backend connection. A healthy handle is
// left alone, so calling this while already connected is a no-op success.
// Statements mid-flight on the replaced handle fail and get retried by
// their runner.
func (c *SQLClient) Reconnect(ctx context.Context) error {
	if !c.cfg.Reconnectable {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.db.PingContext(pctx); err == nil {
		return nil
	}

	c.log.Info("reconnecting data source")
	_ = c.db.Close()

	db, err := sql.Open(c.cfg.Driver, c.cfg.DSN)
	if err != nil {
		return fmt.Errorf("reopen data source %q: %w", c.cfg.ID, err)
	}
	c.db = db

	pctx2, cancel2 := context.WithTimeout(ctx, pingTimeout)
	defer cancel2()
	return db.PingContext(pctx2)
}

func (c *SQLClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}
