package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/domain/check"
)

var (
	mMailQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_mail_queued_total", Help: "Notification batches queued for delivery.",
	})
	mMailDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_mail_dropped_total", Help: "Batches dropped because the delivery queue was full.",
	})
	mMailSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_mail_sent_total", Help: "Notification emails delivered.",
	})
	mMailErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_mail_errors_total", Help: "Delivery failures.",
	})
)

type mailJob struct {
	recipient string
	subject   string
	body      string
}

// MailSink queues rendered notifications and delivers them on worker
// goroutines, so the notifier never waits on SMTP.
type MailSink struct {
	mailer  *Mailer
	log     *zap.Logger
	queue   chan mailJob
	workers int
	wg      sync.WaitGroup
}

var _ Sink = (*MailSink)(nil)

func NewMailSink(mailer *Mailer, log *zap.Logger, workers, buffer int) *MailSink {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &MailSink{
		mailer:  mailer,
		log:     log.With(zap.String("component", "notify.mail_sink")),
		queue:   make(chan mailJob, buffer),
		workers: workers,
	}
}

// Start launches the delivery workers; they drain the queue until the
// context ends.
func (s *MailSink) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Wait blocks until all workers have stopped.
func (s *MailSink) Wait() { s.wg.Wait() }

func (s *MailSink) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			if err := s.mailer.Send(ctx, job.recipient, job.subject, job.body); err != nil {
				mMailErr.Inc()
				s.log.Warn("delivery failed", zap.String("recipient", job.recipient), zap.Error(err))
				continue
			}
			mMailSent.Inc()
		}
	}
}

// Notify renders the batch and enqueues it without blocking. A full queue
// drops the batch; the next notifier pass regroups the still-unhealthy
// checks anyway.
func (s *MailSink) Notify(_ context.Context, recipient string, checks []*check.Check) error {
	job := mailJob{
		recipient: recipient,
		subject:   renderSubject(checks),
		body:      renderBody(checks),
	}
	select {
	case s.queue <- job:
		mMailQueued.Inc()
		return nil
	default:
		mMailDropped.Inc()
		return fmt.Errorf("delivery queue full, dropped batch for %s", recipient)
	}
}

func renderSubject(checks []*check.Check) string {
	if len(checks) == 1 {
		return fmt.Sprintf("check %q is %s", checks[0].QueryName, checks[0].State)
	}
	return fmt.Sprintf("%d checks are unhealthy", len(checks))
}

func renderBody(checks []*check.Check) string {
	var b strings.Builder
	b.WriteString("The following checks need attention:\n\n")
	for _, c := range checks {
		fmt.Fprintf(&b, "  - %s [%s]", c.QueryName, c.State)
		if c.LastRun != nil {
			fmt.Fprintf(&b, " last run %s", c.LastRun.UTC().Format("2006-01-02 15:04:05 MST"))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n-- sqlwatch\n")
	return b.String()
}
