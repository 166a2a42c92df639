package codec

import (
	"fmt"
	"math/big"

	"github.com/varanames/registrar-client/interfaces"
)

func eventFromValues(kind interfaces.EventKind, v []interface{}) (interfaces.Event, error) {
	r := &reader{values: v}
	var ev interfaces.Event
	switch kind {
	case interfaces.CommitSubmittedKind:
		ev = &interfaces.CommitSubmitted{
			Commitment: interfaces.Commitment(r.hash()),
			Timestamp:  interfaces.LedgerTime(r.u64()),
		}
	case interfaces.NameRegisteredKind:
		ev = &interfaces.NameRegistered{
			Name:    interfaces.Name(r.bytes()),
			Owner:   interfaces.OwnerID(r.hash()),
			Expires: interfaces.LedgerTime(r.u64()),
			Cost:    r.bigInt(),
		}
	case interfaces.NameRenewedKind:
		ev = &interfaces.NameRenewed{
			Name:    interfaces.Name(r.bytes()),
			Expires: interfaces.LedgerTime(r.u64()),
			Cost:    r.bigInt(),
		}
	case interfaces.PricesSetKind:
		ev = &interfaces.PricesSet{Base: r.bigInt(), Premium: r.bigInt()}
	case interfaces.CommitAgesSetKind:
		ev = &interfaces.CommitAgesSet{
			Min: interfaces.LedgerSpan(r.u64()),
			Max: interfaces.LedgerSpan(r.u64()),
		}
	case interfaces.GracePeriodSetKind:
		ev = &interfaces.GracePeriodSet{Grace: interfaces.LedgerSpan(r.u64())}
	case interfaces.NamesReservedKind:
		raw := r.bytesList()
		labels := make([]interfaces.Name, len(raw))
		for i := range raw {
			labels[i] = interfaces.Name(raw[i])
		}
		ev = &interfaces.NamesReserved{Labels: labels}
	case interfaces.WithdrawnKind:
		ev = &interfaces.Withdrawn{
			To:     interfaces.OwnerID(r.hash()),
			Amount: r.bigInt(),
		}
	default:
		return nil, ErrUnknownEvent
	}
	if r.err != nil {
		return nil, r.err
	}
	return ev, nil
}

func valuesFromEvent(ev interfaces.Event) ([]interface{}, error) {
	switch e := ev.(type) {
	case *interfaces.CommitSubmitted:
		return []interface{}{[32]byte(e.Commitment), uint64(e.Timestamp)}, nil
	case *interfaces.NameRegistered:
		return []interface{}{[]byte(e.Name), [32]byte(e.Owner), uint64(e.Expires), orZero(e.Cost)}, nil
	case *interfaces.NameRenewed:
		return []interface{}{[]byte(e.Name), uint64(e.Expires), orZero(e.Cost)}, nil
	case *interfaces.PricesSet:
		return []interface{}{orZero(e.Base), orZero(e.Premium)}, nil
	case *interfaces.CommitAgesSet:
		return []interface{}{uint64(e.Min), uint64(e.Max)}, nil
	case *interfaces.GracePeriodSet:
		return []interface{}{uint64(e.Grace)}, nil
	case *interfaces.NamesReserved:
		raw := make([][]byte, len(e.Labels))
		for i, l := range e.Labels {
			raw[i] = []byte(l)
		}
		return []interface{}{raw}, nil
	case *interfaces.Withdrawn:
		return []interface{}{[32]byte(e.To), orZero(e.Amount)}, nil
	}
	return nil, fmt.Errorf("unsupported event type %T", ev)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// reader walks unpacked ABI values, recording the first type mismatch.
type reader struct {
	values []interface{}
	pos    int
	err    error
}

func (r *reader) next() interface{} {
	if r.err != nil {
		return nil
	}
	if r.pos >= len(r.values) {
		r.err = fmt.Errorf("expected more than %d values", len(r.values))
		return nil
	}
	v := r.values[r.pos]
	r.pos++
	return v
}

func (r *reader) mismatch(want string, got interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("value %d: expected %s, got %T", r.pos-1, want, got)
	}
}

func (r *reader) hash() [32]byte {
	v := r.next()
	h, ok := v.([32]byte)
	if !ok && r.err == nil {
		r.mismatch("bytes32", v)
	}
	return h
}

func (r *reader) u64() uint64 {
	v := r.next()
	n, ok := v.(uint64)
	if !ok && r.err == nil {
		r.mismatch("uint64", v)
	}
	return n
}

func (r *reader) bigInt() *big.Int {
	v := r.next()
	n, ok := v.(*big.Int)
	if !ok && r.err == nil {
		r.mismatch("uint128", v)
	}
	return n
}

func (r *reader) bytes() []byte {
	v := r.next()
	b, ok := v.([]byte)
	if !ok && r.err == nil {
		r.mismatch("bytes", v)
	}
	return b
}

func (r *reader) bytesList() [][]byte {
	v := r.next()
	b, ok := v.([][]byte)
	if !ok && r.err == nil {
		r.mismatch("bytes[]", v)
	}
	return b
}
