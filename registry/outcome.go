package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/varanames/registrar-client/codec"
	"github.com/varanames/registrar-client/interfaces"
)

// ErrNoEvent is returned when a successful receipt carries no registrar event.
var ErrNoEvent = errors.New("receipt holds no registrar event")

// txOutcome resolves in the background once the ledger reports inclusion.
type txOutcome struct {
	hash common.Hash
	done chan struct{}

	result *interfaces.Finalized
	err    error
}

func (o *txOutcome) TxHash() common.Hash {
	return o.hash
}

func (o *txOutcome) Done() <-chan struct{} {
	return o.done
}

func (o *txOutcome) Wait(ctx context.Context) (*interfaces.Finalized, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// track starts waiting for hash. The wait is bounded by InclusionTimeout and
// does not depend on the submitting caller's context.
func (c *OnchainRegistrarClient) track(utx *interfaces.UnsignedTx, hash common.Hash) *txOutcome {
	o := &txOutcome{hash: hash, done: make(chan struct{})}
	go func() {
		defer close(o.done)

		ctx, cancel := context.WithTimeout(context.Background(), c.InclusionTimeout)
		defer cancel()

		o.result, o.err = c.finalize(ctx, utx, hash)
		switch {
		case o.err == nil:
			c.metrics.IncrementTransaction(utx.Op, "ok")
		case errors.As(o.err, new(*interfaces.TransactionRejected)):
			c.metrics.IncrementTransaction(utx.Op, "rejected")
		default:
			c.metrics.IncrementTransaction(utx.Op, "error")
		}
	}()
	return o
}

func (c *OnchainRegistrarClient) finalize(ctx context.Context, utx *interfaces.UnsignedTx, hash common.Hash) (*interfaces.Finalized, error) {
	receipt, err := c.ledger.WaitIncluded(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s transaction %s: %w", utx.Op, hash.Hex(), err)
	}

	if !receipt.Succeeded {
		msg := c.codec.DecodeRevert(receipt.RevertData)
		c.log.Warn("transaction failed", "op", utx.Op, "name", utx.Name, "tx", hash.Hex(), "block", receipt.Block.Number, "reason", msg)
		return nil, &interfaces.TransactionRejected{Op: utx.Op, Phase: "execute", Name: utx.Name, Message: msg}
	}

	for _, lg := range receipt.Logs {
		if lg.Address != c.program {
			continue
		}
		ev, err := c.codec.DecodeLog(lg)
		if errors.Is(err, codec.ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s result: %w", utx.Op, err)
		}
		c.log.Debug("transaction finalized", "op", utx.Op, "name", utx.Name, "tx", hash.Hex(), "block", receipt.Block.Number, "event", ev.Kind())
		return &interfaces.Finalized{TxHash: hash, Block: receipt.Block, Event: ev}, nil
	}
	return nil, fmt.Errorf("%s transaction %s: %w", utx.Op, hash.Hex(), ErrNoEvent)
}
