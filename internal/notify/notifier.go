// Package notify turns unhealthy check states into per-recipient
// notifications. Delivery is the sink's concern; the notifier only
// selects, groups and hands off.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/domain/check"
)

// Sink accepts one recipient's batch of unhealthy checks. Notify must not
// block on delivery.
type Sink interface {
	Notify(ctx context.Context, recipient string, checks []*check.Check) error
}

var (
	mNotifSelected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_unhealthy_checks_total", Help: "Unhealthy checks gathered per pass (cumulative).",
	})
	mNotifDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_dispatches_total", Help: "Per-recipient notification batches handed to the sink.",
	})
	mNotifErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_errors_total", Help: "Errors while gathering or dispatching notifications.",
	})
)

type FailureNotifier struct {
	log    *zap.Logger
	checks check.Repo
	sink   Sink
}

func NewFailureNotifier(log *zap.Logger, checks check.Repo, sink Sink) *FailureNotifier {
	return &FailureNotifier{
		log:    log.With(zap.String("component", "notify.failure")),
		checks: checks,
		sink:   sink,
	}
}

// NotifyFailing gathers every check currently in an unhealthy state,
// groups them by recipient address and hands each group to the sink once.
// Recipient order follows first appearance; a check referenced twice for
// the same recipient is delivered once.
func (n *FailureNotifier) NotifyFailing(ctx context.Context) error {
	failing, err := n.checks.ListByStates(ctx, check.UnhealthyStates)
	if err != nil {
		mNotifErr.Inc()
		return fmt.Errorf("list unhealthy checks: %w", err)
	}
	mNotifSelected.Add(float64(len(failing)))
	if len(failing) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]*check.Check)
	seen := make(map[string]map[int64]bool)

	for _, c := range failing {
		for _, rcpt := range c.RecipientList() {
			if seen[rcpt] == nil {
				seen[rcpt] = make(map[int64]bool)
				order = append(order, rcpt)
			}
			if seen[rcpt][c.ID] {
				continue
			}
			seen[rcpt][c.ID] = true
			groups[rcpt] = append(groups[rcpt], c)
		}
	}

	for _, rcpt := range order {
		if err := n.sink.Notify(ctx, rcpt, groups[rcpt]); err != nil {
			mNotifErr.Inc()
			n.log.Warn("notify dispatch", zap.String("recipient", rcpt), zap.Error(err))
			continue
		}
		mNotifDispatched.Inc()
	}

	n.log.Info("failure notifications dispatched",
		zap.Int("checks", len(failing)),
		zap.Int("recipients", len(order)),
	)
	return nil
}

// RunLoop invokes NotifyFailing on a fixed cadence until the context ends.
func (n *FailureNotifier) RunLoop(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.NotifyFailing(ctx); err != nil && !errors.Is(err, context.Canceled) {
				n.log.Warn("notify pass", zap.Error(err))
			}
		}
	}
}
