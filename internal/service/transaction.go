package service

import "context"

// TransactionManager defines the interface for transaction management.
// Services use this to wrap multiple repository operations in a single transaction.
type TransactionManager interface {
	// WithTransaction executes the given function within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// Otherwise, it is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serializes work on a single invoice across goroutines (and, with the
// Redis implementation, across instances).
type Locker interface {
	// Lock blocks until key is held or ctx is done. unlock must be called
	// exactly once after a nil error.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func invoiceLockKey(id string) string {
	return "invoice:" + id
}
