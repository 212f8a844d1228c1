package core

import "context"

// Transactor runs a unit of work atomically: every write made through ctx inside fn
// is committed together, or none is when fn returns an error.
// Repositories read the ongoing transaction from the ctx they are given.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
