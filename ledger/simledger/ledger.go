// Package simledger is an in-process ledger that runs the registrar program's
// rules against a clock. Every submitted transaction is mined into its own
// block immediately. It is meant for tests and local development, never for a
// real deployment.
package simledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/varanames/registrar-client/codec"
	"github.com/varanames/registrar-client/interfaces"
)

const (
	txGasLimit = 1_000_000
	logBuffer  = 256
)

var (
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrUnknownBlock       = errors.New("unknown block")
	ErrSenderMismatch     = errors.New("signature does not match the prepared sender")
)

// Config configures a simulated ledger.
type Config struct {
	ChainID  *big.Int
	Program  common.Address
	TimeUnit interfaces.TimeUnit
	Clock    clock.Clock
	Log      *slog.Logger
	Params   Params
}

// Ledger implements interfaces.Ledger in memory.
type Ledger struct {
	log     *slog.Logger
	codec   *codec.Codec
	clock   clock.Clock
	unit    interfaces.TimeUnit
	address common.Address
	signer  types.Signer

	mu       sync.Mutex
	program  *program
	block    interfaces.BlockRef
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*interfaces.Receipt
	// rejectNext makes the next Submit fail before execution.
	rejectNext error

	// sendMu keeps log delivery in block order. It is taken before mu is
	// released.
	sendMu sync.Mutex
	feed   event.Feed
}

var _ interfaces.Ledger = (*Ledger)(nil)

// New creates a simulated ledger hosting one registrar program.
func New(cfg *Config) (*Ledger, error) {
	if err := cfg.TimeUnit.Validate(); err != nil {
		return nil, err
	}
	c, err := codec.New()
	if err != nil {
		return nil, err
	}

	chainID := cfg.ChainID
	if chainID == nil {
		chainID = big.NewInt(1337)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Ledger{
		log:      log.With("component", "simledger"),
		codec:    c,
		clock:    clk,
		unit:     cfg.TimeUnit,
		address:  cfg.Program,
		signer:   types.LatestSignerForChainID(chainID),
		program:  newProgram(cfg.Params),
		block:    interfaces.BlockRef{Number: 0, Hash: blockHash(0)},
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*interfaces.Receipt),
	}, nil
}

// Program returns the address the registrar is hosted at.
func (l *Ledger) Program() common.Address {
	return l.address
}

// Balance returns the fees the program has collected.
func (l *Ledger) Balance() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.program.balance)
}

// FailNextSubmit makes the next Submit return err without executing.
func (l *Ledger) FailNextSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectNext = err
}

func (l *Ledger) now() interfaces.LedgerTime {
	return l.unit.At(l.clock.Now())
}

func (l *Ledger) Query(ctx context.Context, q *interfaces.Query) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.To != l.address {
		return nil, fmt.Errorf("no program at %s", q.To)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// State is not versioned: queries at past blocks see the latest state.
	if q.At != nil && q.At.Uint64() > l.block.Number {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, q.At)
	}
	reply, err := l.program.view(l.codec, q.Data, l.now())
	if err != nil {
		return nil, &interfaces.RevertError{Data: l.codec.EncodeRevert(err.Error())}
	}
	return reply, nil
}

func (l *Ledger) Prepare(ctx context.Context, from common.Address, utx *interfaces.UnsignedTx) (*interfaces.PreparedTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	nonce := l.nonces[from]
	l.mu.Unlock()

	value := utx.Value
	if value == nil {
		value = new(big.Int)
	}
	to := utx.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      txGasLimit,
		GasPrice: big.NewInt(1),
		Data:     utx.Data,
	})
	return &interfaces.PreparedTx{
		Op:         utx.Op,
		From:       from,
		SigningKey: l.signer.Hash(tx).Bytes(),
		Tx:         tx,
	}, nil
}

func (l *Ledger) Submit(ctx context.Context, ptx *interfaces.PreparedTx, signature []byte) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}

	signed, err := ptx.Tx.WithSignature(l.signer, signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid signature: %w", err)
	}
	sender, err := types.Sender(l.signer, signed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid signature: %w", err)
	}
	if sender != ptx.From {
		return common.Hash{}, ErrSenderMismatch
	}

	l.mu.Lock()
	if l.rejectNext != nil {
		err := l.rejectNext
		l.rejectNext = nil
		l.mu.Unlock()
		return common.Hash{}, err
	}
	if signed.Nonce() != l.nonces[sender] {
		l.mu.Unlock()
		return common.Hash{}, fmt.Errorf("nonce too low: have %d, want %d", signed.Nonce(), l.nonces[sender])
	}
	l.nonces[sender]++

	receipt := l.mine(signed, sender)
	l.sendMu.Lock()
	l.mu.Unlock()

	for _, lg := range receipt.Logs {
		l.feed.Send(*lg)
	}
	l.sendMu.Unlock()
	return signed.Hash(), nil
}

// mine executes tx in a fresh block. Callers hold l.mu.
func (l *Ledger) mine(tx *types.Transaction, sender common.Address) *interfaces.Receipt {
	number := l.block.Number + 1
	l.block = interfaces.BlockRef{Number: number, Hash: blockHash(number)}

	receipt := &interfaces.Receipt{TxHash: tx.Hash(), Block: l.block}

	var (
		ev  interfaces.Event
		err error
	)
	if tx.To() == nil || *tx.To() != l.address {
		err = fmt.Errorf("no program at %v", tx.To())
	} else {
		ev, err = l.program.execute(l.codec, sender, tx.Data(), l.now())
	}

	if err != nil {
		var r revert
		if errors.As(err, &r) {
			receipt.RevertData = l.codec.EncodeRevert(string(r))
		} else {
			receipt.RevertData = l.codec.EncodeRevert(err.Error())
		}
		l.log.Debug("transaction reverted", "tx", tx.Hash(), "block", number, "reason", err)
	} else {
		receipt.Succeeded = true
		lg, encErr := l.codec.EncodeLog(l.address, ev)
		if encErr != nil {
			// The program only emits events the codec knows.
			panic(encErr)
		}
		lg.BlockNumber = number
		lg.BlockHash = l.block.Hash
		lg.TxHash = tx.Hash()
		receipt.Logs = []*types.Log{lg}
		l.log.Debug("transaction executed", "tx", tx.Hash(), "block", number, "event", ev.Kind())
	}

	l.receipts[tx.Hash()] = receipt
	return receipt
}

func (l *Ledger) WaitIncluded(ctx context.Context, txHash common.Hash) (*interfaces.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	receipt, ok := l.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, txHash)
	}
	return receipt, nil
}

func (l *Ledger) Head(ctx context.Context) (*interfaces.Head, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return &interfaces.Head{Block: l.block, Time: l.now()}, nil
}

// Subscribe delivers logs matching the filter's addresses and first topic.
// Block ranges in the filter are ignored; only new logs are delivered.
func (l *Ledger) Subscribe(ctx context.Context, q ethereum.FilterQuery, sink chan<- types.Log) (ethereum.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := make(chan types.Log, logBuffer)
	feedSub := l.feed.Subscribe(in)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer feedSub.Unsubscribe()
		for {
			select {
			case lg := <-in:
				if !matches(q, &lg) {
					continue
				}
				select {
				case sink <- lg:
				case <-quit:
					return nil
				}
			case err := <-feedSub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func matches(q ethereum.FilterQuery, lg *types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == lg.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(lg.Topics) {
			return false
		}
		found := false
		for _, t := range alternatives {
			if t == lg.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func blockHash(number uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash([]byte("simledger"), buf[:])
}
