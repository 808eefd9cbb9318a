package database

import "context"

type DBPool = dbPool

// WithNewPool overrides the function creating the connection pool.
func WithNewPool(newPool func(ctx context.Context, dsn string) (dbPool, error)) Options {
	return func(o *options) {
		o.newPool = newPool
	}
}
