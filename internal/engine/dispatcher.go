package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/domain/check"
	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
)

var (
	mDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_checks_total", Help: "Checks selected for execution, by tier.",
	}, []string{"tier"})
	mDispatchErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_errors_total", Help: "Errors in dispatch ticks.",
	})
	mDispatchDur = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "dispatcher_tick_duration_seconds", Help: "Duration of one dispatch pass.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tier"})
)

// CheckRunner is what the dispatcher drives; satisfied by *Runner.
type CheckRunner interface {
	Run(ctx context.Context, chk *check.Check) (ds.Outcome, int)
}

// Dispatcher selects the checks belonging to a schedule tier and runs
// them sequentially. Sequential execution inside one pass bounds the load
// on each backend; overlap happens only across tiers, each of which runs
// its own loop.
type Dispatcher struct {
	log    *zap.Logger
	checks check.Repo
	runner CheckRunner
}

func NewDispatcher(log *zap.Logger, checks check.Repo, runner CheckRunner) *Dispatcher {
	return &Dispatcher{
		log:    log.With(zap.String("component", "engine.dispatcher")),
		checks: checks,
		runner: runner,
	}
}

// Dispatch runs every check of the given tier once, in store order. An
// empty tier selects all checks.
func (d *Dispatcher) Dispatch(ctx context.Context, tier string) error {
	tr := otel.Tracer("engine.dispatcher")
	ctx, span := tr.Start(ctx, "dispatch",
		trace.WithAttributes(attribute.String("tier", tier)),
	)
	defer span.End()

	label := tier
	if label == "" {
		label = "all"
	}
	start := time.Now()
	defer func() {
		mDispatchDur.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	list, err := d.checks.List(ctx, tier)
	if err != nil {
		span.RecordError(err)
		mDispatchErr.Inc()
		return fmt.Errorf("list checks: %w", err)
	}
	span.SetAttributes(attribute.Int("checks.selected", len(list)))
	mDispatched.WithLabelValues(label).Add(float64(len(list)))

	for _, c := range list {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, attempts := d.runner.Run(ctx, c)
		d.log.Debug("check ran",
			zap.String("tier", label),
			zap.Int64("check_id", c.ID),
			zap.String("state", string(c.State)),
			zap.Int("attempts", attempts),
			zap.Bool("failed", out.Failed()),
		)
	}
	return nil
}

// RunTier drives Dispatch on a fixed cadence until the context ends. Each
// tier gets its own RunTier goroutine, so a fast tier never waits for a
// slow one.
func (d *Dispatcher) RunTier(ctx context.Context, tier string, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	d.tick(ctx, tier)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.tick(ctx, tier)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, tier string) {
	if err := d.Dispatch(ctx, tier); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Warn("dispatch tick", zap.String("tier", tier), zap.Error(err))
	}
}
