package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RegistrarReader exposes the registrar's read-only views. Results are never
// cached: every call goes to the ledger.
type RegistrarReader interface {
	Available(ctx context.Context, name Name, at *big.Int) (bool, error)
	ExpiryOf(ctx context.Context, name Name, at *big.Int) (*LedgerTime, error)
	Price(ctx context.Context, name Name, duration LedgerSpan, at *big.Int) (*big.Int, error)
	IsReserved(ctx context.Context, name Name, at *big.Int) (bool, error)
	Status(ctx context.Context, name Name) (*NameStatus, error)
}

// RegistrarWriter builds, signs and submits the registrar's state-changing operations.
type RegistrarWriter interface {
	Commit(ctx context.Context, commitment Commitment) (TxOutcome, error)
	Register(ctx context.Context, req *RegisterArgs) (TxOutcome, error)
	Renew(ctx context.Context, name Name, duration LedgerSpan) (TxOutcome, error)
	ReserveNames(ctx context.Context, labels []Name) (TxOutcome, error)
	SetPrices(ctx context.Context, base, premium *big.Int) (TxOutcome, error)
	SetCommitAges(ctx context.Context, min, max LedgerSpan) (TxOutcome, error)
	SetGracePeriod(ctx context.Context, grace LedgerSpan) (TxOutcome, error)
	Withdraw(ctx context.Context, to OwnerID, amount *big.Int) (TxOutcome, error)
}

// Registrar is the full client surface.
type Registrar interface {
	RegistrarReader
	RegistrarWriter
}

// RegisterArgs are the reveal-phase arguments.
type RegisterArgs struct {
	Name     Name
	Owner    OwnerID
	Duration LedgerSpan
	Secret   Secret
	Salt     Salt
	// Resolver is optional; the zero value means none.
	Resolver common.Address
}

// TxOutcome is a submitted transaction whose result is still pending.
type TxOutcome interface {
	TxHash() common.Hash
	// Done is closed once the result is available.
	Done() <-chan struct{}
	// Wait blocks until the transaction is finalized or ctx ends. On success the
	// decoded registrar event is returned; a rejected transaction yields a
	// *TransactionRejected carrying the decoded error message.
	Wait(ctx context.Context) (*Finalized, error)
}

// Finalized is the decoded result of an included transaction.
type Finalized struct {
	TxHash common.Hash
	Block  BlockRef
	Event  Event
}
