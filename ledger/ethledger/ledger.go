// Package ethledger implements interfaces.Ledger over a go-ethereum JSON-RPC
// backend. Fees and nonces come from the node; signing stays with the caller.
package ethledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/varanames/registrar-client/interfaces"
)

// Backend is the subset of ethclient.Client the ledger needs. Both
// *ethclient.Client and simulated.Client satisfy it.
type Backend interface {
	bind.ContractBackend
	ethereum.TransactionReader
	ethereum.ChainIDReader
}

// Config tunes an Ethereum ledger.
type Config struct {
	TimeUnit interfaces.TimeUnit
	// PollInterval is how often WaitIncluded checks for a receipt.
	PollInterval time.Duration
	// GasMarginPercent is added on top of the node's gas estimate.
	GasMarginPercent uint64
}

// Ledger talks to an Ethereum-compatible node.
type Ledger struct {
	log     *slog.Logger
	backend Backend
	cfg     Config

	chainMu sync.Mutex
	signer  types.Signer
}

var _ interfaces.Ledger = (*Ledger)(nil)

// New wraps backend. The chain id is fetched lazily on first Prepare.
func New(log *slog.Logger, backend Backend, cfg Config) (*Ledger, error) {
	if err := cfg.TimeUnit.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Ledger{
		log:     log.With("component", "ethledger"),
		backend: backend,
		cfg:     cfg,
	}, nil
}

func (l *Ledger) txSigner(ctx context.Context) (types.Signer, error) {
	l.chainMu.Lock()
	defer l.chainMu.Unlock()
	if l.signer != nil {
		return l.signer, nil
	}
	chainID, err := l.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch chain id: %w", err)
	}
	l.signer = types.LatestSignerForChainID(chainID)
	return l.signer, nil
}

func (l *Ledger) Query(ctx context.Context, q *interfaces.Query) ([]byte, error) {
	to := q.To
	reply, err := l.backend.CallContract(ctx, ethereum.CallMsg{
		From: q.From,
		To:   &to,
		Data: q.Data,
	}, q.At)
	if err != nil {
		if data, ok := revertData(err); ok {
			return nil, &interfaces.RevertError{Data: data}
		}
		return nil, err
	}
	return reply, nil
}

func (l *Ledger) Prepare(ctx context.Context, from common.Address, utx *interfaces.UnsignedTx) (*interfaces.PreparedTx, error) {
	signer, err := l.txSigner(ctx)
	if err != nil {
		return nil, err
	}

	value := utx.Value
	if value == nil {
		value = new(big.Int)
	}
	to := utx.To

	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("could not fetch nonce: %w", err)
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch gas price: %w", err)
	}
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  utx.Data,
	})
	if err != nil {
		if data, ok := revertData(err); ok {
			return nil, &interfaces.RevertError{Data: data}
		}
		return nil, fmt.Errorf("could not estimate gas: %w", err)
	}
	gas += gas * l.cfg.GasMarginPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     utx.Data,
	})
	return &interfaces.PreparedTx{
		Op:         utx.Op,
		From:       from,
		SigningKey: signer.Hash(tx).Bytes(),
		Tx:         tx,
	}, nil
}

func (l *Ledger) Submit(ctx context.Context, ptx *interfaces.PreparedTx, signature []byte) (common.Hash, error) {
	signer, err := l.txSigner(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := ptx.Tx.WithSignature(signer, signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid signature: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	l.log.Debug("transaction submitted", "op", ptx.Op, "tx", signed.Hash(), "nonce", signed.Nonce())
	return signed.Hash(), nil
}

// WaitIncluded polls for the receipt the way bind.WaitMined does. For failed
// transactions the call is replayed at the inclusion block to recover the
// program's error payload.
func (l *Ledger) WaitIncluded(ctx context.Context, txHash common.Hash) (*interfaces.Receipt, error) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return l.toReceipt(ctx, receipt)
		}
		if !errors.Is(err, ethereum.NotFound) {
			l.log.Debug("receipt retrieval failed", "tx", txHash, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Ledger) toReceipt(ctx context.Context, r *types.Receipt) (*interfaces.Receipt, error) {
	res := &interfaces.Receipt{
		TxHash:    r.TxHash,
		Block:     interfaces.BlockRef{Number: r.BlockNumber.Uint64(), Hash: r.BlockHash},
		Succeeded: r.Status == types.ReceiptStatusSuccessful,
		Logs:      r.Logs,
	}
	if res.Succeeded {
		return res, nil
	}

	data, err := l.replay(ctx, r)
	if err != nil {
		l.log.Warn("could not recover revert reason", "tx", r.TxHash, "err", err)
	}
	res.RevertData = data
	return res, nil
}

func (l *Ledger) replay(ctx context.Context, r *types.Receipt) ([]byte, error) {
	tx, _, err := l.backend.TransactionByHash(ctx, r.TxHash)
	if err != nil {
		return nil, err
	}
	signer, err := l.txSigner(ctx)
	if err != nil {
		return nil, err
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, err
	}

	_, err = l.backend.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, r.BlockNumber)
	if err == nil {
		return nil, nil
	}
	if data, ok := revertData(err); ok {
		return data, nil
	}
	return nil, err
}

func (l *Ledger) Head(ctx context.Context) (*interfaces.Head, error) {
	header, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &interfaces.Head{
		Block: interfaces.BlockRef{Number: header.Number.Uint64(), Hash: header.Hash()},
		Time:  l.cfg.TimeUnit.At(time.Unix(int64(header.Time), 0)),
	}, nil
}

func (l *Ledger) Subscribe(ctx context.Context, q ethereum.FilterQuery, sink chan<- types.Log) (ethereum.Subscription, error) {
	return l.backend.SubscribeFilterLogs(ctx, q, sink)
}

// revertData extracts the error payload a node attaches to a reverted call.
func revertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return nil, false
	}
	data, decErr := hexutil.Decode(s)
	if decErr != nil {
		return nil, false
	}
	return data, true
}
