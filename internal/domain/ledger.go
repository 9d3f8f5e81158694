package domain

import "context"

// LedgerReader is the read-only bulk query surface of the remote ledger.
// Implementations sit behind an RPC boundary and may fail per call; callers
// treat individual failures as skippable.
type LedgerReader interface {
	// NextOrderID returns the contract's order-id allocation bound. Order ids
	// are assigned from [0, bound).
	NextOrderID(ctx context.Context) (uint64, error)

	// OrderByID fetches a single order record. Returns ErrNotFound when the
	// ledger has no order under the id.
	OrderByID(ctx context.Context, id uint64) (OrderRecord, error)
}

// LedgerSession is one live event subscription on the ledger transport. A
// session ends when the transport drops; reconnection builds a fresh one.
type LedgerSession interface {
	// Events delivers decoded contract events in arrival order.
	Events() <-chan LedgerEvent

	// Liveness delivers periodic chain-head numbers as evidence the transport
	// is alive. Absence of signals is not treated as a failure.
	Liveness() <-chan uint64

	// Err yields the terminal transport error once the session drops.
	Err() <-chan error

	// Close tears the session down. Safe to call more than once.
	Close()
}
