package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sqlwatch/sqlwatch/internal/domain/query"
)

var _ query.Repo = (*QueryRepoImpl)(nil)

type QueryRepoImpl struct {
	db *DB
}

func NewQueryRepo(db *DB) *QueryRepoImpl { return &QueryRepoImpl{db: db} }

const (
	qQueryByID = `
SELECT id, name, statement, data_source_id, created_at, updated_at
FROM queries
WHERE id = $1;
`
	qQueryList = `
SELECT id, name, statement, data_source_id, created_at, updated_at
FROM queries
ORDER BY id;
`
)

func scanQuery(row pgx.Row, q *query.Query) error {
	if err := row.Scan(
		&q.ID,
		&q.Name,
		&q.Statement,
		&q.DataSourceID,
		&q.CreatedAt,
		&q.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan query: %w", err)
	}
	return nil
}

func (r *QueryRepoImpl) GetByID(ctx context.Context, id int64) (*query.Query, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var q query.Query
	if err := scanQuery(r.db.Pool.QueryRow(ctx, qQueryByID, id), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QueryRepoImpl) List(ctx context.Context) ([]*query.Query, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qQueryList)
	if err != nil {
		return nil, fmt.Errorf("query queries: %w", err)
	}
	defer rows.Close()

	var out []*query.Query
	for rows.Next() {
		var q query.Query
		if err := scanQuery(rows, &q); err != nil {
			return nil, err
		}
		out = append(out, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
