package registry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/varanames/registrar-client/interfaces"
)

// MockRegistrar mocks the interfaces.Registrar interface
type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Available(ctx context.Context, name interfaces.Name, at *big.Int) (bool, error) {
	args := m.Called(ctx, name, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockRegistrar) ExpiryOf(ctx context.Context, name interfaces.Name, at *big.Int) (*interfaces.LedgerTime, error) {
	args := m.Called(ctx, name, at)
	expiry, _ := args.Get(0).(*interfaces.LedgerTime)
	return expiry, args.Error(1)
}

func (m *MockRegistrar) Price(ctx context.Context, name interfaces.Name, duration interfaces.LedgerSpan, at *big.Int) (*big.Int, error) {
	args := m.Called(ctx, name, duration, at)
	price, _ := args.Get(0).(*big.Int)
	return price, args.Error(1)
}

func (m *MockRegistrar) IsReserved(ctx context.Context, name interfaces.Name, at *big.Int) (bool, error) {
	args := m.Called(ctx, name, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockRegistrar) Status(ctx context.Context, name interfaces.Name) (*interfaces.NameStatus, error) {
	args := m.Called(ctx, name)
	st, _ := args.Get(0).(*interfaces.NameStatus)
	return st, args.Error(1)
}

func (m *MockRegistrar) outcome(args mock.Arguments) (interfaces.TxOutcome, error) {
	o, _ := args.Get(0).(interfaces.TxOutcome)
	return o, args.Error(1)
}

func (m *MockRegistrar) Commit(ctx context.Context, commitment interfaces.Commitment) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, commitment))
}

func (m *MockRegistrar) Register(ctx context.Context, req *interfaces.RegisterArgs) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, req))
}

func (m *MockRegistrar) Renew(ctx context.Context, name interfaces.Name, duration interfaces.LedgerSpan) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, name, duration))
}

func (m *MockRegistrar) ReserveNames(ctx context.Context, labels []interfaces.Name) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, labels))
}

func (m *MockRegistrar) SetPrices(ctx context.Context, base, premium *big.Int) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, base, premium))
}

func (m *MockRegistrar) SetCommitAges(ctx context.Context, min, max interfaces.LedgerSpan) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, min, max))
}

func (m *MockRegistrar) SetGracePeriod(ctx context.Context, grace interfaces.LedgerSpan) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, grace))
}

func (m *MockRegistrar) Withdraw(ctx context.Context, to interfaces.OwnerID, amount *big.Int) (interfaces.TxOutcome, error) {
	return m.outcome(m.Called(ctx, to, amount))
}

// ResolvedOutcome is a TxOutcome that is already final.
type ResolvedOutcome struct {
	Hash   common.Hash
	Result *interfaces.Finalized
	Err    error
}

// NewResolvedOutcome returns an outcome that resolves to ev at block.
func NewResolvedOutcome(hash common.Hash, block uint64, ev interfaces.Event) *ResolvedOutcome {
	return &ResolvedOutcome{
		Hash:   hash,
		Result: &interfaces.Finalized{TxHash: hash, Block: interfaces.BlockRef{Number: block}, Event: ev},
	}
}

func (o *ResolvedOutcome) TxHash() common.Hash { return o.Hash }

func (o *ResolvedOutcome) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (o *ResolvedOutcome) Wait(ctx context.Context) (*interfaces.Finalized, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Result, nil
}

// MockLedger mocks the interfaces.Ledger interface
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Query(ctx context.Context, q *interfaces.Query) ([]byte, error) {
	args := m.Called(ctx, q)
	reply, _ := args.Get(0).([]byte)
	return reply, args.Error(1)
}

func (m *MockLedger) Prepare(ctx context.Context, from common.Address, tx *interfaces.UnsignedTx) (*interfaces.PreparedTx, error) {
	args := m.Called(ctx, from, tx)
	ptx, _ := args.Get(0).(*interfaces.PreparedTx)
	return ptx, args.Error(1)
}

func (m *MockLedger) Submit(ctx context.Context, tx *interfaces.PreparedTx, signature []byte) (common.Hash, error) {
	args := m.Called(ctx, tx, signature)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *MockLedger) WaitIncluded(ctx context.Context, txHash common.Hash) (*interfaces.Receipt, error) {
	args := m.Called(ctx, txHash)
	receipt, _ := args.Get(0).(*interfaces.Receipt)
	return receipt, args.Error(1)
}

func (m *MockLedger) Head(ctx context.Context) (*interfaces.Head, error) {
	args := m.Called(ctx)
	head, _ := args.Get(0).(*interfaces.Head)
	return head, args.Error(1)
}

func (m *MockLedger) Subscribe(ctx context.Context, q ethereum.FilterQuery, sink chan<- types.Log) (ethereum.Subscription, error) {
	args := m.Called(ctx, q, sink)
	sub, _ := args.Get(0).(ethereum.Subscription)
	return sub, args.Error(1)
}

// MockSigner mocks the interfaces.Signer interface
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Address() common.Address {
	return m.Called().Get(0).(common.Address)
}

func (m *MockSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	args := m.Called(ctx, payload)
	sig, _ := args.Get(0).([]byte)
	return sig, args.Error(1)
}
