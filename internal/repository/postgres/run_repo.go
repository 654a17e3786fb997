package postgres

import (
	"context"
	"fmt"

	"github.com/sqlwatch/sqlwatch/internal/domain/run"
)

var _ run.Repo = (*RunRepoImpl)(nil)

type RunRepoImpl struct{ db *DB }

func NewRunRepo(db *DB) *RunRepoImpl { return &RunRepoImpl{db: db} }

const (
	qRunInsert = `
INSERT INTO check_runs (check_id, ts, state, row_count, error, attempts)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id;
`
	qRunsByCheck = `
SELECT id, check_id, ts, state, row_count, error, attempts
FROM check_runs
WHERE check_id = $1
ORDER BY ts DESC
LIMIT $2;
`
)

func (r *RunRepoImpl) Insert(ctx context.Context, rec *run.Record) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	return eq.QueryRow(ctx, qRunInsert,
		rec.CheckID, rec.Timestamp, string(rec.State), rec.RowCount, rec.Err, rec.Attempts,
	).Scan(&rec.ID)
}

func (r *RunRepoImpl) ListByCheck(ctx context.Context, checkID int64, limit int) ([]*run.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qRunsByCheck, checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := make([]*run.Record, 0, limit)
	for rows.Next() {
		var rec run.Record
		if err := rows.Scan(&rec.ID, &rec.CheckID, &rec.Timestamp, &rec.State, &rec.RowCount, &rec.Err, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
