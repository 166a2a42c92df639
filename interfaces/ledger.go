package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Query is a read-only call against a program.
type Query struct {
	To   common.Address
	From common.Address
	Data []byte
	// At pins the query to a block number. Nil means the latest block.
	At *big.Int
}

// UnsignedTx describes a state-changing call before the ledger prepares it.
// Building one has no on-chain effect.
type UnsignedTx struct {
	Op string
	// Name is the label the call concerns, if any. Used for error context only.
	Name  string
	To    common.Address
	Data  []byte
	Value *big.Int
}

// PreparedTx is a transaction completed by the ledger (nonce, fees, chain id)
// together with the exact payload the signer must sign.
type PreparedTx struct {
	Op         string
	From       common.Address
	SigningKey []byte
	Tx         *types.Transaction
}

// Receipt is the ledger's record of an included transaction.
type Receipt struct {
	TxHash    common.Hash
	Block     BlockRef
	Succeeded bool
	Logs      []*types.Log
	// RevertData holds the program's error payload when Succeeded is false.
	RevertData []byte
}

// Head describes the latest block.
type Head struct {
	Block BlockRef
	Time  LedgerTime
}

// Ledger is the boundary to the distributed ledger executing the registrar program.
type Ledger interface {
	// Query runs a read-only call and returns the raw reply.
	Query(ctx context.Context, q *Query) ([]byte, error)

	// Prepare completes an unsigned transaction for the given sender.
	Prepare(ctx context.Context, from common.Address, tx *UnsignedTx) (*PreparedTx, error)

	// Submit attaches the signature and broadcasts the transaction.
	Submit(ctx context.Context, tx *PreparedTx, signature []byte) (common.Hash, error)

	// WaitIncluded blocks until the transaction is included and returns its receipt.
	WaitIncluded(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// Head returns the latest block reference and its timestamp.
	Head(ctx context.Context) (*Head, error)

	// Subscribe streams logs matching the filter into sink until the
	// subscription is cancelled.
	Subscribe(ctx context.Context, q ethereum.FilterQuery, sink chan<- types.Log) (ethereum.Subscription, error)
}

// Signer holds the key that authorizes transactions. Wallet custody lives behind it.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// RevertError is returned by Ledger.Query when the program rejects the call.
// Data is the program's encoded error payload, possibly empty.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string {
	return "execution reverted"
}
