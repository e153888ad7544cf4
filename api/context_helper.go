package api

import (
	"context"
	"time"
)

// QueryTimeout bounds the one-shot mongo queries behind the HTTP handlers,
// such as alert lookups, buddy-relation reads and the raise/respond/resolve
// writes. Feed and tracker change streams manage their own lifetimes and do
// not run under it.
const QueryTimeout = 10 * time.Second

// WithQueryTimeout derives a context capped at QueryTimeout.
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}
