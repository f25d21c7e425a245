package unitofwork

import "context"

// RepositoryFactory builds transaction-scoped units of work.
type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
}
