package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultPublishPolicy governs telemetry publishes to the broker. The
// broker being briefly unreachable should never surface to a check run,
// so all errors are retried with capped exponential backoff.
func DefaultPublishPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "telemetry_publish",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("telemetry publish retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("telemetry publish retries exhausted", zap.Error(err))
			}
		},
	}
}
