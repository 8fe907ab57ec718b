package graph

import "context"

// Row is one result row of a graph query.
type Row map[string]any

// Executor runs one query against the graph store. The synchronizer only
// ever issues write statements through it; reads exist for tooling and
// tests.
type Executor interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]Row, error)
}

// TxExecutor is implemented by executors that can group statements into one
// graph-side transaction. When the updater's executor supports it, every
// event's full mutation sequence commits or rolls back as a unit.
type TxExecutor interface {
	Executor
	InTx(ctx context.Context, fn func(Executor) error) error
}
