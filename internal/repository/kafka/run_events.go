package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/retry"
	"github.com/sqlwatch/sqlwatch/internal/telemetry"
)

// RunEventsKafka publishes run telemetry to a topic, keyed by check id so
// one check's events stay ordered within a partition.
type RunEventsKafka struct {
	p   *Producer
	pol retry.Policy
	log *zap.Logger
}

var _ telemetry.Sink = (*RunEventsKafka)(nil)

func NewRunEventsKafka(p *Producer, log *zap.Logger) *RunEventsKafka {
	return &RunEventsKafka{
		p:   p,
		pol: retry.DefaultPublishPolicy(log),
		log: log.With(zap.String("component", "telemetry.kafka")),
	}
}

// RecordRun hands the event to the broker on a detached goroutine. Check
// runs never wait on broker availability; publish failures burn through
// the retry policy and are logged.
func (s *RunEventsKafka) RecordRun(ctx context.Context, ev telemetry.RunEvent) error {
	bg := context.WithoutCancel(ctx)
	go func() {
		_, err := retry.Do(bg, func() error {
			return s.p.PublishJSON(bg, KeyFromInt64(ev.CheckID), ev)
		}, s.pol)
		if err != nil {
			s.log.Warn("run event dropped", zap.Int64("check_id", ev.CheckID), zap.Error(err))
		}
	}()
	return nil
}
