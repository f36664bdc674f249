// Package mutation implements writes against the model layer: input
// partitioning around relations, single and bulk create/update/delete, and
// translation of database constraint failures into declared messages. All
// statements of one GraphQL mutation operation share a single transaction.
package mutation

import (
	"context"
	"sync"

	"modelql/internal/dbexec"
)

type contextKey struct{}

// Context holds the shared transaction for one mutation operation.
type Context struct {
	tx        dbexec.TxExecutor
	hasError  bool
	finalized bool
	mu        sync.Mutex
}

func NewContext(tx dbexec.TxExecutor) *Context {
	return &Context{tx: tx}
}

func (mc *Context) Tx() dbexec.TxExecutor {
	return mc.tx
}

func (mc *Context) MarkError() {
	mc.mu.Lock()
	mc.hasError = true
	mc.mu.Unlock()
}

// Finalize commits or rolls back based on the error state. The lock is held
// across the whole operation so MarkError cannot slip in between the check
// and the commit.
func (mc *Context) Finalize() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.finalized {
		return nil
	}
	mc.finalized = true

	if mc.hasError {
		return mc.tx.Rollback()
	}
	return mc.tx.Commit()
}

func WithContext(ctx context.Context, mc *Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, mc)
}

func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	mc, _ := ctx.Value(contextKey{}).(*Context)
	return mc
}
