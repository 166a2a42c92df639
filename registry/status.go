package registry

import (
	"context"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/varanames/registrar-client/interfaces"
)

// Status resolves the state of name by reading availability, expiry and
// reservation concurrently at one pinned block.
func (c *OnchainRegistrarClient) Status(ctx context.Context, name interfaces.Name) (*interfaces.NameStatus, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	head, err := c.ledger.Head(ctx)
	if err != nil {
		return nil, &interfaces.QueryError{Op: "head", Name: name.String(), Message: c.ledgerMessage(err), Err: err}
	}
	at := new(big.Int).SetUint64(head.Block.Number)

	var (
		available bool
		reserved  bool
		expiry    *interfaces.LedgerTime
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		available, err = c.Available(gctx, name, at)
		return err
	})
	g.Go(func() (err error) {
		expiry, err = c.ExpiryOf(gctx, name, at)
		return err
	})
	g.Go(func() (err error) {
		reserved, err = c.IsReserved(gctx, name, at)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return ResolveStatus(name, head.Time, available, reserved, expiry), nil
}

// ResolveStatus combines the three registrar views into one status.
func ResolveStatus(name interfaces.Name, now interfaces.LedgerTime, available, reserved bool, expiry *interfaces.LedgerTime) *interfaces.NameStatus {
	st := &interfaces.NameStatus{Name: name, Expiry: expiry}
	switch {
	case available:
		st.Kind = interfaces.StatusAvailable
	case reserved:
		st.Kind = interfaces.StatusReserved
	case expiry != nil && *expiry >= now:
		st.Kind = interfaces.StatusActive
	case expiry != nil:
		st.Kind = interfaces.StatusInGracePeriod
	default:
		st.Kind = interfaces.StatusUnavailable
	}
	return st
}
