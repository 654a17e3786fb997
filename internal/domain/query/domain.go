package query

import "time"

// Query is a stored statement plus the data source it runs against.
// The engine only ever reads queries; authoring happens elsewhere.
type Query struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Statement    string    `json:"statement"`
	DataSourceID string    `json:"data_source_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
