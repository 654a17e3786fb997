package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/classify"
	"github.com/sqlwatch/sqlwatch/internal/domain/check"
	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
	"github.com/sqlwatch/sqlwatch/internal/domain/query"
	"github.com/sqlwatch/sqlwatch/internal/domain/run"
	"github.com/sqlwatch/sqlwatch/internal/telemetry"
)

type fakeQueries struct{ q *query.Query }

func (f *fakeQueries) GetByID(_ context.Context, id int64) (*query.Query, error) {
	if f.q == nil || f.q.ID != id {
		return nil, errNotFound
	}
	return f.q, nil
}
func (f *fakeQueries) List(context.Context) ([]*query.Query, error) { return nil, nil }

var errNotFound = assert.AnError

type stateUpdate struct {
	id    int64
	state check.State
	ranAt time.Time
}

type fakeChecks struct {
	list    []*check.Check
	updates []stateUpdate
}

func (f *fakeChecks) GetByID(_ context.Context, id int64) (*check.Check, error) {
	for _, c := range f.list {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errNotFound
}
func (f *fakeChecks) List(_ context.Context, schedule string) ([]*check.Check, error) {
	if schedule == "" {
		return f.list, nil
	}
	var out []*check.Check
	for _, c := range f.list {
		if c.Schedule == schedule {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeChecks) ListByStates(_ context.Context, states []check.State) ([]*check.Check, error) {
	var out []*check.Check
	for _, c := range f.list {
		for _, s := range states {
			if c.State == s {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}
func (f *fakeChecks) UpdateState(_ context.Context, id int64, s check.State, ranAt time.Time) error {
	f.updates = append(f.updates, stateUpdate{id: id, state: s, ranAt: ranAt})
	return nil
}

type fakeRuns struct{ recs []*run.Record }

func (f *fakeRuns) Insert(_ context.Context, r *run.Record) error {
	f.recs = append(f.recs, r)
	return nil
}
func (f *fakeRuns) ListByCheck(context.Context, int64, int) ([]*run.Record, error) {
	return nil, nil
}

type fakeClient struct {
	cfg        ds.Config
	outcomes   []ds.Outcome
	calls      int
	reconnects int
}

func (f *fakeClient) RunStatement(_ context.Context, _ string, _ bool) ds.Outcome {
	i := f.calls
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[i]
}
func (f *fakeClient) Reconnect(context.Context) error {
	f.reconnects++
	return nil
}
func (f *fakeClient) Conf() ds.Config { return f.cfg }
func (f *fakeClient) Close() error    { return nil }

type fakeResolver struct{ c ds.Client }

func (f *fakeResolver) Resolve(string) ds.Client { return f.c }

type fakeSink struct{ events []telemetry.RunEvent }

func (f *fakeSink) RecordRun(_ context.Context, ev telemetry.RunEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type countingBackoff struct{ waits int }

func (b *countingBackoff) Next(int) time.Duration {
	b.waits++
	return 0
}

type fixture struct {
	runner  *Runner
	queries *fakeQueries
	checks  *fakeChecks
	runs    *fakeRuns
	client  *fakeClient
	sink    *fakeSink
	backoff *countingBackoff
	chk     *check.Check
}

func newFixture(t *testing.T, outcomes []ds.Outcome, opts Options) *fixture {
	t.Helper()
	chk := &check.Check{
		ID:         7,
		QueryID:    11,
		QueryName:  "orders stuck",
		Schedule:   "5 minutes",
		State:      check.StateNew,
		Recipients: "ops@example.com",
	}
	f := &fixture{
		queries: &fakeQueries{q: &query.Query{ID: 11, Name: "orders stuck", Statement: "SELECT 1", DataSourceID: "warehouse"}},
		checks:  &fakeChecks{list: []*check.Check{chk}},
		runs:    &fakeRuns{},
		client:  &fakeClient{cfg: ds.Config{ID: "warehouse"}, outcomes: outcomes},
		sink:    &fakeSink{},
		backoff: &countingBackoff{},
		chk:     chk,
	}
	f.runner = NewRunner(zap.NewNop(), Deps{
		Queries:   f.queries,
		Checks:    f.checks,
		Runs:      f.runs,
		Sources:   &fakeResolver{c: f.client},
		Telemetry: f.sink,
	}, opts)
	f.runner.backoff = f.backoff
	return f
}

func TestRunHealthyRowsYieldPassing(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Columns: []string{"n"}, Rows: [][]string{}}}, Options{})

	out, attempts := f.runner.Run(context.Background(), f.chk)

	assert.False(t, out.Failed())
	assert.Equal(t, 1, attempts)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StatePassing, f.checks.updates[0].state)
	assert.Equal(t, check.StatePassing, f.chk.State)
	assert.Equal(t, 0, f.backoff.waits)
	assert.Equal(t, 0, f.client.reconnects)
}

func TestRunAnomalyRowsYieldFailing(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Columns: []string{"n"}, Rows: [][]string{{"1"}}}}, Options{})

	_, attempts := f.runner.Run(context.Background(), f.chk)

	assert.Equal(t, 1, attempts)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StateFailing, f.checks.updates[0].state)
}

func TestRunCustomHealthyPredicate(t *testing.T) {
	// healthy only when a row with "ok" comes back
	healthy := func(_ []string, rows [][]string) bool {
		return len(rows) == 1 && rows[0][0] == "ok"
	}
	f := newFixture(t, []ds.Outcome{{Columns: []string{"status"}, Rows: [][]string{{"ok"}}}}, Options{Healthy: healthy})

	f.runner.Run(context.Background(), f.chk)

	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StatePassing, f.checks.updates[0].state)
}

func TestRunTimeoutOnEveryAttemptEndsTimedOut(t *testing.T) {
	timeout := ds.Outcome{Err: classify.StatementTimedOut}
	f := newFixture(t, []ds.Outcome{timeout, timeout, timeout}, Options{})

	out, attempts := f.runner.Run(context.Background(), f.chk)

	assert.Equal(t, classify.StatementTimedOut, out.Err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, f.client.calls)
	assert.Equal(t, 3, f.backoff.waits)
	assert.Equal(t, 0, f.client.reconnects)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StateTimedOut, f.checks.updates[0].state)
}

func TestRunConnectionLostThenSuccessReconnectsOnce(t *testing.T) {
	f := newFixture(t, []ds.Outcome{
		{Err: "read tcp: connection reset by peer"},
		{Columns: []string{"n"}, Rows: [][]string{}},
	}, Options{})

	out, attempts := f.runner.Run(context.Background(), f.chk)

	assert.False(t, out.Failed())
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, f.client.reconnects)
	assert.Equal(t, 1, f.backoff.waits)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StatePassing, f.checks.updates[0].state)
}

func TestRunTerminalErrorStopsImmediately(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Err: `pq: syntax error at or near "SELEC"`}}, Options{})

	out, attempts := f.runner.Run(context.Background(), f.chk)

	assert.True(t, out.Failed())
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, f.backoff.waits)
	assert.Equal(t, 0, f.client.reconnects)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StateError, f.checks.updates[0].state)
}

func TestRunExhaustedConnectionLossEndsError(t *testing.T) {
	lost := ds.Outcome{Err: "driver: bad connection"}
	f := newFixture(t, []ds.Outcome{lost, lost, lost}, Options{})

	_, attempts := f.runner.Run(context.Background(), f.chk)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, f.client.reconnects)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StateError, f.checks.updates[0].state)
}

func TestRunDisabledCheckIsNeverOverwritten(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Columns: []string{"n"}, Rows: [][]string{{"1"}}}}, Options{})
	f.chk.State = check.StateDisabled

	f.runner.Run(context.Background(), f.chk)

	// run executed and was recorded, but the stored state stays disabled
	assert.Equal(t, 1, f.client.calls)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StateDisabled, f.checks.updates[0].state)
	assert.Equal(t, check.StateDisabled, f.chk.State)
	// the history keeps the real result
	require.Len(t, f.runs.recs, 1)
	assert.Equal(t, check.StateFailing, f.runs.recs[0].State)
}

func TestRunPanickingTransformIsFatalToTheRun(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Columns: []string{"n"}}}, Options{
		Transform: func(ds.Config, string) string { panic("bad rewrite") },
	})

	out, attempts := f.runner.Run(context.Background(), f.chk)

	assert.Contains(t, out.Err, "bad rewrite")
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, f.client.calls)
	assert.Equal(t, 0, f.backoff.waits)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StateError, f.checks.updates[0].state)
}

func TestRunTransformAppliedBeforeEachAttempt(t *testing.T) {
	var stmts []string
	f := newFixture(t, []ds.Outcome{
		{Err: classify.StatementTimedOut},
		{Columns: []string{"n"}, Rows: [][]string{}},
	}, Options{
		Transform: func(cfg ds.Config, stmt string) string {
			stmts = append(stmts, stmt)
			return "/* " + cfg.ID + " */ " + stmt
		},
	})

	_, attempts := f.runner.Run(context.Background(), f.chk)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"SELECT 1", "SELECT 1"}, stmts)
}

func TestRunEmitsOneTelemetryEvent(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Columns: []string{"n"}, Rows: [][]string{{"1"}, {"2"}}}}, Options{})

	f.runner.Run(context.Background(), f.chk)

	require.Len(t, f.sink.events, 1)
	ev := f.sink.events[0]
	assert.Equal(t, int64(7), ev.CheckID)
	assert.Equal(t, int64(11), ev.QueryID)
	assert.Equal(t, check.StateNew, ev.PrevState)
	assert.Equal(t, check.StateFailing, ev.NewState)
	require.NotNil(t, ev.RowCount)
	assert.Equal(t, 2, *ev.RowCount)
	assert.Empty(t, ev.Err)
	assert.Equal(t, 1, ev.Attempts)
}

func TestRunErroredTelemetryHasNoRowCount(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Err: "pq: relation does not exist"}}, Options{})

	f.runner.Run(context.Background(), f.chk)

	require.Len(t, f.sink.events, 1)
	assert.Nil(t, f.sink.events[0].RowCount)
	assert.Equal(t, "pq: relation does not exist", f.sink.events[0].Err)
}

func TestRunRecordsHistory(t *testing.T) {
	timeout := ds.Outcome{Err: classify.StatementTimedOut}
	f := newFixture(t, []ds.Outcome{timeout, timeout, timeout}, Options{})

	f.runner.Run(context.Background(), f.chk)

	require.Len(t, f.runs.recs, 1)
	rec := f.runs.recs[0]
	assert.Equal(t, int64(7), rec.CheckID)
	assert.Equal(t, check.StateTimedOut, rec.State)
	assert.Nil(t, rec.RowCount)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRunMissingQueryEndsError(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{}}, Options{})
	f.queries.q = nil

	out, attempts := f.runner.Run(context.Background(), f.chk)

	assert.True(t, out.Failed())
	assert.Equal(t, 0, attempts)
	require.Len(t, f.checks.updates, 1)
	assert.Equal(t, check.StateError, f.checks.updates[0].state)
}

func TestRunCancelledContextSkipsPersistence(t *testing.T) {
	f := newFixture(t, []ds.Outcome{{Err: classify.StatementTimedOut}}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.runner.Run(ctx, f.chk)

	assert.Empty(t, f.checks.updates)
	assert.Empty(t, f.sink.events)
}
