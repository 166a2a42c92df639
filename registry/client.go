package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/varanames/registrar-client/codec"
	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/metrics"
)

// DefaultInclusionTimeout bounds how long an outcome waits for a receipt.
const DefaultInclusionTimeout = 5 * time.Minute

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// OnchainRegistrarClient implements interfaces.Registrar for a registrar
// program reached through an interfaces.Ledger.
type OnchainRegistrarClient struct {
	log     *slog.Logger
	ledger  interfaces.Ledger
	codec   *codec.Codec
	program common.Address
	metrics *metrics.Metrics

	// InclusionTimeout bounds the background wait behind each TxOutcome.
	InclusionTimeout time.Duration

	signer interfaces.Signer
	// sendMu serializes prepare, sign and submit so nonces never race.
	sendMu sync.Mutex
}

var _ interfaces.Registrar = (*OnchainRegistrarClient)(nil)

// NewOnchainRegistrarClient creates a client for the registrar at program.
// Read-only views work immediately; transactions require SetSigner.
func NewOnchainRegistrarClient(log *slog.Logger, ledger interfaces.Ledger, program common.Address) (*OnchainRegistrarClient, error) {
	c, err := codec.New()
	if err != nil {
		return nil, err
	}
	return &OnchainRegistrarClient{
		log:              log.With("component", "registrar-client", "program", program.Hex()),
		ledger:           ledger,
		codec:            c,
		program:          program,
		InclusionTimeout: DefaultInclusionTimeout,
	}, nil
}

// SetSigner sets the key used for state-changing operations.
func (c *OnchainRegistrarClient) SetSigner(s interfaces.Signer) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.signer = s
}

// SetMetrics enables instrumentation.
func (c *OnchainRegistrarClient) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Program returns the registrar address.
func (c *OnchainRegistrarClient) Program() common.Address {
	return c.program
}

// Codec exposes the registrar codec.
func (c *OnchainRegistrarClient) Codec() *codec.Codec {
	return c.codec
}

func (c *OnchainRegistrarClient) query(ctx context.Context, op string, name interfaces.Name, data []byte, at *big.Int) ([]byte, error) {
	start := time.Now()
	reply, err := c.ledger.Query(ctx, &interfaces.Query{To: c.program, Data: data, At: at})
	c.metrics.ObserveQuery(op, err, time.Since(start))
	if err != nil {
		return nil, &interfaces.QueryError{Op: op, Name: name.String(), Message: c.ledgerMessage(err), Err: err}
	}
	return reply, nil
}

// ledgerMessage prefers the program's own error text over transport errors.
func (c *OnchainRegistrarClient) ledgerMessage(err error) string {
	var revert *interfaces.RevertError
	if errors.As(err, &revert) {
		return c.codec.DecodeRevert(revert.Data)
	}
	return err.Error()
}

func (c *OnchainRegistrarClient) decodeFailed(op string, name interfaces.Name, err error) error {
	return &interfaces.QueryError{Op: op, Name: name.String(), Message: err.Error(), Err: err}
}

// Available reports whether name can be registered at block at (nil for latest).
func (c *OnchainRegistrarClient) Available(ctx context.Context, name interfaces.Name, at *big.Int) (bool, error) {
	if err := name.Validate(); err != nil {
		return false, err
	}
	data, err := c.codec.EncodeAvailable(name)
	if err != nil {
		return false, err
	}
	reply, err := c.query(ctx, codec.OpAvailable, name, data, at)
	if err != nil {
		return false, err
	}
	ok, err := c.codec.DecodeAvailable(reply)
	if err != nil {
		return false, c.decodeFailed(codec.OpAvailable, name, err)
	}
	return ok, nil
}

// ExpiryOf returns the registration expiry, or nil when the ledger holds none.
// A nil expiry does not imply the name is available.
func (c *OnchainRegistrarClient) ExpiryOf(ctx context.Context, name interfaces.Name, at *big.Int) (*interfaces.LedgerTime, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	data, err := c.codec.EncodeExpiryOf(name)
	if err != nil {
		return nil, err
	}
	reply, err := c.query(ctx, codec.OpExpiryOf, name, data, at)
	if err != nil {
		return nil, err
	}
	expiry, err := c.codec.DecodeExpiryOf(reply)
	if err != nil {
		return nil, c.decodeFailed(codec.OpExpiryOf, name, err)
	}
	return expiry, nil
}

// Price returns the ledger-computed cost of holding name for duration.
func (c *OnchainRegistrarClient) Price(ctx context.Context, name interfaces.Name, duration interfaces.LedgerSpan, at *big.Int) (*big.Int, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if err := validateDuration(duration); err != nil {
		return nil, err
	}
	data, err := c.codec.EncodePrice(name, duration)
	if err != nil {
		return nil, err
	}
	reply, err := c.query(ctx, codec.OpPrice, name, data, at)
	if err != nil {
		return nil, err
	}
	price, err := c.codec.DecodePrice(reply)
	if err != nil {
		return nil, c.decodeFailed(codec.OpPrice, name, err)
	}
	return price, nil
}

// IsReserved reports whether the controller has reserved name.
func (c *OnchainRegistrarClient) IsReserved(ctx context.Context, name interfaces.Name, at *big.Int) (bool, error) {
	if err := name.Validate(); err != nil {
		return false, err
	}
	data, err := c.codec.EncodeReserved(name)
	if err != nil {
		return false, err
	}
	reply, err := c.query(ctx, codec.OpReserved, name, data, at)
	if err != nil {
		return false, err
	}
	ok, err := c.codec.DecodeReserved(reply)
	if err != nil {
		return false, c.decodeFailed(codec.OpReserved, name, err)
	}
	return ok, nil
}

func validateDuration(d interfaces.LedgerSpan) error {
	if d == 0 {
		return &interfaces.ValidationError{Field: "duration", Reason: "must be positive"}
	}
	return nil
}

func validateAmount(field string, v *big.Int) error {
	switch {
	case v == nil:
		return &interfaces.ValidationError{Field: field, Reason: "missing"}
	case v.Sign() < 0:
		return &interfaces.ValidationError{Field: field, Reason: "must not be negative"}
	case v.Cmp(maxUint128) > 0:
		return &interfaces.ValidationError{Field: field, Reason: "exceeds 128 bits"}
	}
	return nil
}

func (c *OnchainRegistrarClient) unsigned(op, name string, data []byte, value *big.Int) *interfaces.UnsignedTx {
	return &interfaces.UnsignedTx{Op: op, Name: name, To: c.program, Data: data, Value: value}
}

// BuildCommit builds the unsigned commit transaction.
func (c *OnchainRegistrarClient) BuildCommit(commitment interfaces.Commitment) (*interfaces.UnsignedTx, error) {
	data, err := c.codec.EncodeCommit(commitment)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpCommit, "", data, nil), nil
}

// BuildRegister builds the unsigned register transaction paying price.
func (c *OnchainRegistrarClient) BuildRegister(args *interfaces.RegisterArgs, price *big.Int) (*interfaces.UnsignedTx, error) {
	if err := args.Name.Validate(); err != nil {
		return nil, err
	}
	if err := validateDuration(args.Duration); err != nil {
		return nil, err
	}
	if err := validateAmount("price", price); err != nil {
		return nil, err
	}
	data, err := c.codec.EncodeRegister(args)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpRegister, args.Name.String(), data, price), nil
}

// BuildRenew builds the unsigned renew transaction paying price.
func (c *OnchainRegistrarClient) BuildRenew(name interfaces.Name, duration interfaces.LedgerSpan, price *big.Int) (*interfaces.UnsignedTx, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if err := validateDuration(duration); err != nil {
		return nil, err
	}
	if err := validateAmount("price", price); err != nil {
		return nil, err
	}
	data, err := c.codec.EncodeRenew(name, duration)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpRenew, name.String(), data, price), nil
}

func (c *OnchainRegistrarClient) BuildReserveNames(labels []interfaces.Name) (*interfaces.UnsignedTx, error) {
	if len(labels) == 0 {
		return nil, &interfaces.ValidationError{Field: "labels", Reason: "empty"}
	}
	if len(labels) > interfaces.MaxReservedLabels {
		return nil, &interfaces.ValidationError{Field: "labels", Reason: fmt.Sprintf("%d labels exceeds maximum of %d", len(labels), interfaces.MaxReservedLabels)}
	}
	for _, l := range labels {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}
	data, err := c.codec.EncodeReserveNames(labels)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpReserveNames, "", data, nil), nil
}

func (c *OnchainRegistrarClient) BuildSetPrices(base, premium *big.Int) (*interfaces.UnsignedTx, error) {
	if err := validateAmount("base", base); err != nil {
		return nil, err
	}
	if err := validateAmount("premium", premium); err != nil {
		return nil, err
	}
	data, err := c.codec.EncodeSetPrices(base, premium)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpSetPrices, "", data, nil), nil
}

func (c *OnchainRegistrarClient) BuildSetCommitAges(min, max interfaces.LedgerSpan) (*interfaces.UnsignedTx, error) {
	if min > max {
		return nil, &interfaces.ValidationError{Field: "commit_ages", Reason: fmt.Sprintf("min %d exceeds max %d", min, max)}
	}
	data, err := c.codec.EncodeSetCommitAges(min, max)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpSetCommitAges, "", data, nil), nil
}

func (c *OnchainRegistrarClient) BuildSetGracePeriod(grace interfaces.LedgerSpan) (*interfaces.UnsignedTx, error) {
	data, err := c.codec.EncodeSetGracePeriod(grace)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpSetGracePeriod, "", data, nil), nil
}

func (c *OnchainRegistrarClient) BuildWithdraw(to interfaces.OwnerID, amount *big.Int) (*interfaces.UnsignedTx, error) {
	if err := validateAmount("amount", amount); err != nil {
		return nil, err
	}
	data, err := c.codec.EncodeWithdraw(to, amount)
	if err != nil {
		return nil, err
	}
	return c.unsigned(codec.OpWithdraw, "", data, nil), nil
}

// Send prepares, signs and submits utx. The returned outcome resolves once
// the transaction is included.
func (c *OnchainRegistrarClient) Send(ctx context.Context, utx *interfaces.UnsignedTx) (interfaces.TxOutcome, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.signer == nil {
		c.metrics.IncrementTransaction(utx.Op, "error")
		return nil, &interfaces.TransactionRejected{Op: utx.Op, Phase: "sign", Name: utx.Name, Message: interfaces.ErrNoSigner.Error(), Err: interfaces.ErrNoSigner}
	}

	ptx, err := c.ledger.Prepare(ctx, c.signer.Address(), utx)
	if err != nil {
		return nil, c.rejected(utx, "prepare", err)
	}
	sig, err := c.signer.Sign(ctx, ptx.SigningKey)
	if err != nil {
		return nil, c.rejected(utx, "sign", err)
	}
	hash, err := c.ledger.Submit(ctx, ptx, sig)
	if err != nil {
		return nil, c.rejected(utx, "submit", err)
	}

	c.log.Debug("transaction submitted", "op", utx.Op, "name", utx.Name, "tx", hash.Hex())
	return c.track(utx, hash), nil
}

func (c *OnchainRegistrarClient) rejected(utx *interfaces.UnsignedTx, phase string, err error) error {
	c.metrics.IncrementTransaction(utx.Op, "rejected")
	c.log.Warn("transaction rejected", "op", utx.Op, "name", utx.Name, "phase", phase, "err", err)
	return &interfaces.TransactionRejected{Op: utx.Op, Phase: phase, Name: utx.Name, Message: c.ledgerMessage(err), Err: err}
}

func (c *OnchainRegistrarClient) Commit(ctx context.Context, commitment interfaces.Commitment) (interfaces.TxOutcome, error) {
	utx, err := c.BuildCommit(commitment)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}

// Register re-quotes the price and submits the reveal.
func (c *OnchainRegistrarClient) Register(ctx context.Context, args *interfaces.RegisterArgs) (interfaces.TxOutcome, error) {
	price, err := c.Price(ctx, args.Name, args.Duration, nil)
	if err != nil {
		return nil, err
	}
	utx, err := c.BuildRegister(args, price)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}

// Renew re-quotes the price and extends the registration.
func (c *OnchainRegistrarClient) Renew(ctx context.Context, name interfaces.Name, duration interfaces.LedgerSpan) (interfaces.TxOutcome, error) {
	price, err := c.Price(ctx, name, duration, nil)
	if err != nil {
		return nil, err
	}
	utx, err := c.BuildRenew(name, duration, price)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}

func (c *OnchainRegistrarClient) ReserveNames(ctx context.Context, labels []interfaces.Name) (interfaces.TxOutcome, error) {
	utx, err := c.BuildReserveNames(labels)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}

func (c *OnchainRegistrarClient) SetPrices(ctx context.Context, base, premium *big.Int) (interfaces.TxOutcome, error) {
	utx, err := c.BuildSetPrices(base, premium)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}

func (c *OnchainRegistrarClient) SetCommitAges(ctx context.Context, min, max interfaces.LedgerSpan) (interfaces.TxOutcome, error) {
	utx, err := c.BuildSetCommitAges(min, max)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}

func (c *OnchainRegistrarClient) SetGracePeriod(ctx context.Context, grace interfaces.LedgerSpan) (interfaces.TxOutcome, error) {
	utx, err := c.BuildSetGracePeriod(grace)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}

func (c *OnchainRegistrarClient) Withdraw(ctx context.Context, to interfaces.OwnerID, amount *big.Int) (interfaces.TxOutcome, error) {
	utx, err := c.BuildWithdraw(to, amount)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, utx)
}
