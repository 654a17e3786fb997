package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/domain/check"
)

type stubChecks struct {
	failing []*check.Check
	err     error
	states  []check.State
}

func (s *stubChecks) GetByID(context.Context, int64) (*check.Check, error) { return nil, nil }
func (s *stubChecks) List(context.Context, string) ([]*check.Check, error) { return nil, nil }
func (s *stubChecks) ListByStates(_ context.Context, states []check.State) ([]*check.Check, error) {
	s.states = states
	return s.failing, s.err
}
func (s *stubChecks) UpdateState(context.Context, int64, check.State, time.Time) error {
	return nil
}

type batch struct {
	recipient string
	checks    []*check.Check
}

type recordingSink struct {
	batches []batch
	err     error
}

func (s *recordingSink) Notify(_ context.Context, recipient string, checks []*check.Check) error {
	s.batches = append(s.batches, batch{recipient: recipient, checks: checks})
	return s.err
}

func checkIDs(cs []*check.Check) []int64 {
	ids := make([]int64, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestNotifyFailingGroupsByRecipient(t *testing.T) {
	checks := &stubChecks{failing: []*check.Check{
		{ID: 1, QueryName: "a", State: check.StateFailing, Recipients: "x@ex.com, y@ex.com"},
		{ID: 2, QueryName: "b", State: check.StateError, Recipients: "y@ex.com,z@ex.com"},
	}}
	sink := &recordingSink{}
	n := NewFailureNotifier(zap.NewNop(), checks, sink)

	err := n.NotifyFailing(context.Background())

	require.NoError(t, err)
	require.Len(t, sink.batches, 3)
	assert.Equal(t, "x@ex.com", sink.batches[0].recipient)
	assert.Equal(t, []int64{1}, checkIDs(sink.batches[0].checks))
	assert.Equal(t, "y@ex.com", sink.batches[1].recipient)
	assert.Equal(t, []int64{1, 2}, checkIDs(sink.batches[1].checks))
	assert.Equal(t, "z@ex.com", sink.batches[2].recipient)
	assert.Equal(t, []int64{2}, checkIDs(sink.batches[2].checks))
}

func TestNotifyFailingSelectsUnhealthyStates(t *testing.T) {
	checks := &stubChecks{}
	n := NewFailureNotifier(zap.NewNop(), checks, &recordingSink{})

	require.NoError(t, n.NotifyFailing(context.Background()))

	assert.Equal(t, check.UnhealthyStates, checks.states)
}

func TestNotifyFailingDeduplicatesPerRecipient(t *testing.T) {
	// same check listed twice, same recipient twice on one check
	c := &check.Check{ID: 5, QueryName: "dup", State: check.StateFailing, Recipients: "x@ex.com,x@ex.com"}
	checks := &stubChecks{failing: []*check.Check{c, c}}
	sink := &recordingSink{}
	n := NewFailureNotifier(zap.NewNop(), checks, sink)

	require.NoError(t, n.NotifyFailing(context.Background()))

	require.Len(t, sink.batches, 1)
	assert.Equal(t, []int64{5}, checkIDs(sink.batches[0].checks))
}

func TestNotifyFailingNoUnhealthyChecksNoDispatch(t *testing.T) {
	sink := &recordingSink{}
	n := NewFailureNotifier(zap.NewNop(), &stubChecks{}, sink)

	require.NoError(t, n.NotifyFailing(context.Background()))

	assert.Empty(t, sink.batches)
}

func TestNotifyFailingSinkErrorDoesNotAbortOtherRecipients(t *testing.T) {
	checks := &stubChecks{failing: []*check.Check{
		{ID: 1, State: check.StateFailing, Recipients: "x@ex.com"},
		{ID: 2, State: check.StateFailing, Recipients: "y@ex.com"},
	}}
	sink := &recordingSink{err: assert.AnError}
	n := NewFailureNotifier(zap.NewNop(), checks, sink)

	require.NoError(t, n.NotifyFailing(context.Background()))

	assert.Len(t, sink.batches, 2)
}

func TestNotifyFailingListError(t *testing.T) {
	n := NewFailureNotifier(zap.NewNop(), &stubChecks{err: assert.AnError}, &recordingSink{})

	err := n.NotifyFailing(context.Background())

	assert.ErrorIs(t, err, assert.AnError)
}

func TestRenderSubject(t *testing.T) {
	one := []*check.Check{{QueryName: "orders stuck", State: check.StateTimedOut}}
	assert.Equal(t, `check "orders stuck" is timed_out`, renderSubject(one))

	many := []*check.Check{{}, {}, {}}
	assert.Equal(t, "3 checks are unhealthy", renderSubject(many))
}

func TestRenderBodyListsEveryCheck(t *testing.T) {
	ran := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	body := renderBody([]*check.Check{
		{QueryName: "orders stuck", State: check.StateFailing, LastRun: &ran},
		{QueryName: "dead letters", State: check.StateError},
	})

	assert.Contains(t, body, "orders stuck [failing] last run 2026-08-29 10:30:00 UTC")
	assert.Contains(t, body, "dead letters [error]")
}

func TestMailSinkQueueFullDropsBatch(t *testing.T) {
	// not started, so nothing drains the single-slot queue
	s := NewMailSink(nil, zap.NewNop(), 1, 1)
	cs := []*check.Check{{QueryName: "q", State: check.StateFailing}}

	require.NoError(t, s.Notify(context.Background(), "x@ex.com", cs))
	err := s.Notify(context.Background(), "y@ex.com", cs)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}
