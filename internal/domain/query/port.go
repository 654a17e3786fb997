package query

import "context"

type Repo interface {
	GetByID(ctx context.Context, id int64) (*Query, error)
	List(ctx context.Context) ([]*Query, error)
}
