package repositories

import "context"

// TxFn runs inside a transaction; returning an error rolls it back.
type TxFn func(ctx context.Context) error

// TransactionManager scopes a function to one atomic transaction. Every
// public repository mutation is all-or-nothing per call; the manager is the
// single place that property is enforced.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
