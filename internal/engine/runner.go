// Package engine executes checks: it applies the statement transform,
// drives the retry loop over the data-source client, derives the new
// check state and persists and reports it.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/classify"
	"github.com/sqlwatch/sqlwatch/internal/domain/check"
	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
	"github.com/sqlwatch/sqlwatch/internal/domain/query"
	"github.com/sqlwatch/sqlwatch/internal/domain/run"
	"github.com/sqlwatch/sqlwatch/internal/obs"
	"github.com/sqlwatch/sqlwatch/internal/repository/postgres"
	"github.com/sqlwatch/sqlwatch/internal/retry"
	"github.com/sqlwatch/sqlwatch/internal/telemetry"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 10 * time.Second
)

// Transform rewrites a statement for its target backend before every
// attempt. It must be pure; stored query text is never modified.
type Transform func(cfg ds.Config, stmt string) string

// Healthy decides whether a successful result set means the check passes.
// Checks watch for anomaly rows, so the default passes on an empty set.
type Healthy func(cols []string, rows [][]string) bool

func defaultHealthy(_ []string, rows [][]string) bool { return len(rows) == 0 }

var (
	mRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_check_runs_total", Help: "Completed check runs by resulting state.",
	}, []string{"state"})
	mReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_reconnects_total", Help: "Data source reconnects triggered by lost connections.",
	})
	mRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_check_run_duration_seconds",
		Help:    "Wall time of one check run including retries and backoff.",
		Buckets: []float64{.05, .25, 1, 5, 10, 15, 30, 60},
	})
)

type Deps struct {
	Queries    query.Repo
	Checks     check.Repo
	Runs       run.Repo
	Sources    ds.Resolver
	Transactor postgres.Transactor
	Telemetry  telemetry.Sink
}

type Options struct {
	Transform Transform
	Healthy   Healthy
	Attempts  int
	Backoff   time.Duration
}

type Runner struct {
	log  *zap.Logger
	deps Deps

	transform Transform
	healthy   Healthy
	attempts  int
	backoff   retry.Backoff

	now func() time.Time
}

func NewRunner(log *zap.Logger, deps Deps, opts Options) *Runner {
	r := &Runner{
		log:       log.With(zap.String("component", "engine.runner")),
		deps:      deps,
		transform: opts.Transform,
		healthy:   opts.Healthy,
		attempts:  opts.Attempts,
		backoff:   retry.Fixed{Interval: opts.Backoff},
		now:       func() time.Time { return time.Now().UTC() },
	}
	if r.healthy == nil {
		r.healthy = defaultHealthy
	}
	if r.attempts <= 0 {
		r.attempts = DefaultAttempts
	}
	if opts.Backoff <= 0 {
		r.backoff = retry.Fixed{Interval: DefaultBackoff}
	}
	if r.deps.Telemetry == nil {
		r.deps.Telemetry = telemetry.NopSink{}
	}
	if r.deps.Transactor == nil {
		r.deps.Transactor = passthroughTx{}
	}
	return r
}

// Run executes one check end to end and returns the final outcome plus
// the number of attempts used. Backend failures never escape as errors;
// they end up in the outcome and in the persisted state.
func (r *Runner) Run(ctx context.Context, chk *check.Check) (ds.Outcome, int) {
	tr := otel.Tracer("engine.runner")
	ctx, span := tr.Start(ctx, "check.run",
		trace.WithAttributes(
			attribute.Int64("check.id", chk.ID),
			attribute.Int64("query.id", chk.QueryID),
		),
	)
	defer span.End()

	start := time.Now()
	out, attempts := r.attempt(ctx, chk)
	mRunDuration.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		// Shutdown mid-run: leave the stored state alone.
		return out, attempts
	}

	newState := r.deriveState(out)
	prev := chk.State

	// Disabled is set externally and never overwritten by a run; the run
	// still executes so re-enabling picks up a fresh result, and its real
	// outcome lands in the run history.
	persisted := newState
	if prev == check.StateDisabled {
		persisted = check.StateDisabled
	}

	ranAt := r.now()
	if err := r.persist(ctx, chk, persisted, newState, out, attempts, ranAt); err != nil {
		span.RecordError(err)
		r.log.Error("persist run", zap.Int64("check_id", chk.ID), zap.Error(err))
	} else {
		chk.State = persisted
		chk.LastRun = &ranAt
	}

	mRuns.WithLabelValues(string(persisted)).Inc()
	span.SetAttributes(attribute.String("check.state", string(persisted)))

	ev := telemetry.RunEvent{
		CheckID:   chk.ID,
		QueryID:   chk.QueryID,
		PrevState: prev,
		NewState:  persisted,
		RowCount:  rowCount(out),
		Err:       out.Err,
		Attempts:  attempts,
		At:        ranAt,
	}
	if err := r.deps.Telemetry.RecordRun(ctx, ev); err != nil {
		r.log.Warn("telemetry record", zap.Int64("check_id", chk.ID), zap.Error(err))
	}

	return out, attempts
}

// attempt runs the retry loop: transient failures (timeouts, lost
// connections) are retried with a fixed backoff up to the attempt budget,
// reconnecting the shared data source when the connection dropped.
// Terminal failures and successes end the loop immediately.
func (r *Runner) attempt(ctx context.Context, chk *check.Check) (ds.Outcome, int) {
	q, err := r.deps.Queries.GetByID(ctx, chk.QueryID)
	if err != nil {
		return ds.Outcome{Err: fmt.Sprintf("load query %d: %v", chk.QueryID, err)}, 0
	}

	client := r.deps.Sources.Resolve(q.DataSourceID)

	var out ds.Outcome
	attempts, _ := retry.Do(ctx, func() error {
		stmt, herr := r.transformStatement(client.Conf(), q.Statement)
		if herr != nil {
			out = ds.Outcome{Err: herr.Error()}
			return &classify.Error{Class: classify.Terminal, Text: herr.Error()}
		}

		// Checks always bypass the cache: a stale health signal is worse
		// than the extra backend load.
		out = client.RunStatement(ctx, stmt, true)
		if !out.Failed() {
			return nil
		}
		return &classify.Error{Class: classify.Classify(out.Err), Text: out.Err}
	}, retry.Policy{
		Name:     "check_run",
		Attempts: r.attempts,
		Backoff:  r.backoff,
		Retryable: func(err error) bool {
			return classify.ClassOf(err) != classify.Terminal
		},
		OnAttempt: func(i int, err error) {
			r.handleFailedAttempt(ctx, chk, client, i, err)
		},
	})

	return out, attempts
}

func (r *Runner) handleFailedAttempt(ctx context.Context, chk *check.Check, client ds.Client, i int, err error) {
	cls := classify.ClassOf(err)
	log := obs.WithTrace(ctx, r.log).With(
		zap.Int64("check_id", chk.ID),
		zap.Int("attempt", i+1),
		zap.String("class", cls.String()),
	)
	switch cls {
	case classify.ConnectionLost:
		log.Warn("connection lost, reconnecting", zap.Error(err))
		mReconnects.Inc()
		if rerr := client.Reconnect(ctx); rerr != nil {
			log.Warn("reconnect failed", zap.Error(rerr))
		}
	case classify.Timeout:
		log.Warn("statement timed out, will retry", zap.Error(err))
	default:
		log.Warn("statement failed", zap.Error(err))
	}
}

// transformStatement applies the injected transform hook. A panicking
// hook is a defect of that one run: it is captured, not retried, and
// becomes the run's error.
func (r *Runner) transformStatement(cfg ds.Config, stmt string) (result string, err error) {
	if r.transform == nil {
		return stmt, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("statement transform: %v", p)
		}
	}()
	return r.transform(cfg, stmt), nil
}

func (r *Runner) deriveState(out ds.Outcome) check.State {
	switch {
	case !out.Failed():
		if r.healthy(out.Columns, out.Rows) {
			return check.StatePassing
		}
		return check.StateFailing
	case classify.Classify(out.Err) == classify.Timeout:
		return check.StateTimedOut
	default:
		return check.StateError
	}
}

// persist writes the state transition and the run-history record in one
// transaction so the dashboard never sees one without the other.
func (r *Runner) persist(ctx context.Context, chk *check.Check, persisted, derived check.State, out ds.Outcome, attempts int, ranAt time.Time) error {
	rec := &run.Record{
		CheckID:   chk.ID,
		Timestamp: ranAt,
		State:     derived,
		RowCount:  rowCount(out),
		Err:       out.Err,
		Attempts:  attempts,
	}
	return r.deps.Transactor.WithTx(ctx, func(txCtx context.Context) error {
		if err := r.deps.Checks.UpdateState(txCtx, chk.ID, persisted, ranAt); err != nil {
			return fmt.Errorf("update state: %w", err)
		}
		if r.deps.Runs == nil {
			return nil
		}
		if err := r.deps.Runs.Insert(txCtx, rec); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

func rowCount(out ds.Outcome) *int {
	if out.Failed() {
		return nil
	}
	n := len(out.Rows)
	return &n
}

// passthroughTx runs the body without transactional bracketing; used when
// no store transactor is wired (tests, in-memory setups).
type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
