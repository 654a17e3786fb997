package kafka

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	MaxWait           time.Duration
}

func (s *TopicSpec) applyDefaults() {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 5 * time.Second
	}
}

// EnsureTopic creates the telemetry topic on the cluster controller if it
// does not exist and waits until its partitions are visible. Failures are
// soft for callers: the writer also has AllowAutoTopicCreation set, so a
// missed bootstrap only delays the first publish.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	spec.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("topic", spec.Name))

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		log.Warn("kafka dial failed", zap.Error(err))
		return err
	}
	defer conn.Close()

	cc, err := dialController(ctx, conn)
	if err != nil {
		log.Warn("kafka controller dial failed", zap.Error(err))
		return err
	}
	defer cc.Close()

	if err := cc.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	}); err != nil {
		log.Debug("create topic (maybe exists)", zap.Error(err))
	}

	return waitForPartitions(ctx, conn, spec, log)
}

func dialController(ctx context.Context, conn *kafka.Conn) (*kafka.Conn, error) {
	controller, err := conn.Controller()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	return kafka.DialContext(ctx, "tcp", addr)
}

func waitForPartitions(ctx context.Context, conn *kafka.Conn, spec TopicSpec, log *zap.Logger) error {
	wait, cancel := context.WithTimeout(ctx, spec.MaxWait)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ps, err := conn.ReadPartitions(spec.Name); err == nil && len(ps) > 0 {
			log.Info("topic ready", zap.Int("partitions", len(ps)))
			return nil
		}
		select {
		case <-wait.Done():
			log.Warn("topic not confirmed ready in time")
			return nil
		case <-ticker.C:
		}
	}
}
