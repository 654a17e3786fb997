package run

import "context"

type Repo interface {
	Insert(ctx context.Context, r *Record) error
	ListByCheck(ctx context.Context, checkID int64, limit int) ([]*Record, error)
}
