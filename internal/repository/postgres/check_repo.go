package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sqlwatch/sqlwatch/internal/domain/check"
)

var _ check.Repo = (*CheckRepoImpl)(nil)

type CheckRepoImpl struct {
	db *DB
}

func NewCheckRepo(db *DB) *CheckRepoImpl { return &CheckRepoImpl{db: db} }

const (
	checkColumns = `
c.id, c.query_id, q.name, c.schedule, c.state, c.recipients,
c.last_run, c.last_state_change, c.created_at, c.updated_at`

	qCheckByID = `
SELECT ` + checkColumns + `
FROM checks c
JOIN queries q ON q.id = c.query_id
WHERE c.id = $1;
`

	qCheckListAll = `
SELECT ` + checkColumns + `
FROM checks c
JOIN queries q ON q.id = c.query_id
ORDER BY c.id;
`

	qCheckListBySchedule = `
SELECT ` + checkColumns + `
FROM checks c
JOIN queries q ON q.id = c.query_id
WHERE c.schedule = $1
ORDER BY c.id;
`

	qCheckListByStates = `
SELECT ` + checkColumns + `
FROM checks c
JOIN queries q ON q.id = c.query_id
WHERE c.state = ANY($1)
ORDER BY c.id;
`

	qCheckUpdateState = `
UPDATE checks
SET last_state_change = CASE WHEN state IS DISTINCT FROM $2 THEN $3 ELSE last_state_change END,
    state = $2,
    last_run = $3,
    updated_at = now()
WHERE id = $1;
`
)

func scanCheck(row pgx.Row, c *check.Check) error {
	if err := row.Scan(
		&c.ID,
		&c.QueryID,
		&c.QueryName,
		&c.Schedule,
		&c.State,
		&c.Recipients,
		&c.LastRun,
		&c.LastStateChange,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan check: %w", err)
	}
	return nil
}

func (r *CheckRepoImpl) GetByID(ctx context.Context, id int64) (*check.Check, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c check.Check
	if err := scanCheck(r.db.Pool.QueryRow(ctx, qCheckByID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CheckRepoImpl) List(ctx context.Context, schedule string) ([]*check.Check, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	if schedule == "" {
		rows, err = r.db.Pool.Query(ctx, qCheckListAll)
	} else {
		rows, err = r.db.Pool.Query(ctx, qCheckListBySchedule, schedule)
	}
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	return collectChecks(rows)
}

func (r *CheckRepoImpl) ListByStates(ctx context.Context, states []check.State) ([]*check.Check, error) {
	if len(states) == 0 {
		return nil, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	ss := make([]string, len(states))
	for i, s := range states {
		ss[i] = string(s)
	}

	rows, err := r.db.Pool.Query(ctx, qCheckListByStates, ss)
	if err != nil {
		return nil, fmt.Errorf("query checks by state: %w", err)
	}
	defer rows.Close()

	return collectChecks(rows)
}

func (r *CheckRepoImpl) UpdateState(ctx context.Context, id int64, s check.State, ranAt time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	cmd, err := eq.Exec(ctx, qCheckUpdateState, id, string(s), ranAt)
	if err != nil {
		return fmt.Errorf("update check state: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectChecks(rows pgx.Rows) ([]*check.Check, error) {
	var out []*check.Check
	for rows.Next() {
		var c check.Check
		if err := scanCheck(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
