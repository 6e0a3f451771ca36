package transaction

import (
	"context"

	"github.com/dynejs/db/internal/orm/connection"
)

type contextKey string

const contextKeyTransaction contextKey = "dynedb:transaction"

// FromContext returns the transaction-bound handle carried by ctx
func FromContext(ctx context.Context) (*connection.DB, bool) {
	db, ok := ctx.Value(contextKeyTransaction).(*connection.DB)
	return db, ok
}

// WithContext returns a context carrying a transaction-bound handle
func WithContext(ctx context.Context, db *connection.DB) context.Context {
	return context.WithValue(ctx, contextKeyTransaction, db)
}
