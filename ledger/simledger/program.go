package simledger

import (
	"bytes"
	"errors"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"

	"github.com/varanames/registrar-client/codec"
	"github.com/varanames/registrar-client/interfaces"
)

// MaxCommitments bounds the number of pending commitments the program holds.
const MaxCommitments = 1000

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// revert is a program failure carrying the message the program reports.
type revert string

func (r revert) Error() string { return string(r) }

// Params seeds the program state.
type Params struct {
	Controller   common.Address
	BasePrice    *big.Int
	PremiumPrice *big.Int
	MinCommitAge interfaces.LedgerSpan
	MaxCommitAge interfaces.LedgerSpan
	GracePeriod  interfaces.LedgerSpan
}

// program is the registrar's state machine. Callers hold the ledger lock.
type program struct {
	controller common.Address
	commits    map[[32]byte]interfaces.LedgerTime
	expires    map[string]interfaces.LedgerTime
	reserved   [][]byte
	base       *big.Int
	premium    *big.Int
	minAge     interfaces.LedgerSpan
	maxAge     interfaces.LedgerSpan
	grace      interfaces.LedgerSpan
	balance    *big.Int
}

func newProgram(p Params) *program {
	return &program{
		controller: p.Controller,
		commits:    make(map[[32]byte]interfaces.LedgerTime),
		expires:    make(map[string]interfaces.LedgerTime),
		base:       cloneOrZero(p.BasePrice),
		premium:    cloneOrZero(p.PremiumPrice),
		minAge:     p.MinCommitAge,
		maxAge:     p.MaxCommitAge,
		grace:      p.GracePeriod,
		balance:    new(big.Int),
	}
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (p *program) isReserved(name []byte) bool {
	return slices.ContainsFunc(p.reserved, func(l []byte) bool { return bytes.Equal(l, name) })
}

func (p *program) price(name []byte, duration uint64) *big.Int {
	fee := new(big.Int).Set(p.base)
	if len(name) < 5 {
		fee.Add(fee, p.premium)
	}
	fee.Mul(fee, new(big.Int).SetUint64(duration))
	if fee.Cmp(maxUint128) > 0 {
		return new(big.Int).Set(maxUint128)
	}
	return fee
}

func (p *program) available(name []byte, now interfaces.LedgerTime) bool {
	if len(name) > interfaces.MaxNameLength {
		return false
	}
	expires := p.expires[string(name)]
	return !p.isReserved(name) && uint64(now) > saturatingAdd(uint64(expires), uint64(p.grace))
}

// view answers a read-only call.
func (p *program) view(c *codec.Codec, data []byte, now interfaces.LedgerTime) ([]byte, error) {
	method, args, err := c.DecodeCall(data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case codec.OpAvailable:
		return c.EncodeReply(codec.OpAvailable, p.available(args[0].([]byte), now))
	case codec.OpExpiryOf:
		name := args[0].([]byte)
		expires, ok := p.expires[string(name)]
		if len(name) > interfaces.MaxNameLength {
			ok = false
		}
		return c.EncodeReply(codec.OpExpiryOf, ok, uint64(expires))
	case codec.OpPrice:
		name := args[0].([]byte)
		if len(name) > interfaces.MaxNameLength {
			return c.EncodeReply(codec.OpPrice, new(big.Int))
		}
		return c.EncodeReply(codec.OpPrice, p.price(name, args[1].(uint64)))
	case codec.OpReserved:
		return c.EncodeReply(codec.OpReserved, p.isReserved(args[0].([]byte)))
	}
	return nil, errors.New("method " + method.Name + " is not a view")
}

// execute applies a state-changing call and returns the event it emits.
func (p *program) execute(c *codec.Codec, from common.Address, data []byte, now interfaces.LedgerTime) (interfaces.Event, error) {
	method, args, err := c.DecodeCall(data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case codec.OpCommit:
		return p.commit(args[0].([32]byte), now)
	case codec.OpRegister:
		return p.register(&interfaces.RegisterArgs{
			Name:     interfaces.Name(args[0].([]byte)),
			Owner:    interfaces.OwnerID(args[1].([32]byte)),
			Duration: interfaces.LedgerSpan(args[2].(uint64)),
			Secret:   interfaces.Secret(args[3].([32]byte)),
			Salt:     interfaces.Salt(args[4].([32]byte)),
			Resolver: args[5].(common.Address),
		}, now)
	case codec.OpRenew:
		return p.renew(args[0].([]byte), args[1].(uint64), now)
	}

	if from != p.controller {
		return nil, revert("Not controller")
	}
	switch method.Name {
	case codec.OpSetPrices:
		p.base = new(big.Int).Set(args[0].(*big.Int))
		p.premium = new(big.Int).Set(args[1].(*big.Int))
		return &interfaces.PricesSet{Base: p.base, Premium: p.premium}, nil
	case codec.OpSetCommitAges:
		p.minAge = interfaces.LedgerSpan(args[0].(uint64))
		p.maxAge = interfaces.LedgerSpan(args[1].(uint64))
		return &interfaces.CommitAgesSet{Min: p.minAge, Max: p.maxAge}, nil
	case codec.OpSetGracePeriod:
		p.grace = interfaces.LedgerSpan(args[0].(uint64))
		return &interfaces.GracePeriodSet{Grace: p.grace}, nil
	case codec.OpReserveNames:
		return p.reserveNames(args[0].([][]byte))
	case codec.OpWithdraw:
		amount := args[1].(*big.Int)
		if amount.Cmp(p.balance) > 0 {
			return nil, revert("Insufficient balance")
		}
		p.balance.Sub(p.balance, amount)
		return &interfaces.Withdrawn{To: interfaces.OwnerID(args[0].([32]byte)), Amount: new(big.Int).Set(amount)}, nil
	}
	return nil, errors.New("method " + method.Name + " is not a transaction")
}

func (p *program) commit(commitment [32]byte, now interfaces.LedgerTime) (interfaces.Event, error) {
	if _, ok := p.commits[commitment]; ok {
		return nil, revert("Commitment already exists")
	}
	if len(p.commits) >= MaxCommitments {
		return nil, revert("Too many commitments")
	}
	p.commits[commitment] = now
	return &interfaces.CommitSubmitted{Commitment: commitment, Timestamp: now}, nil
}

func (p *program) register(args *interfaces.RegisterArgs, now interfaces.LedgerTime) (interfaces.Event, error) {
	name := []byte(args.Name)
	if len(name) > interfaces.MaxNameLength {
		return nil, revert("Name too long")
	}
	if p.isReserved(name) {
		return nil, revert("Name is reserved")
	}

	preimage := make([]byte, 0, len(name)+96)
	preimage = append(preimage, name...)
	preimage = append(preimage, args.Owner[:]...)
	preimage = append(preimage, args.Secret[:]...)
	preimage = append(preimage, args.Salt[:]...)
	commitment := blake2b.Sum256(preimage)

	committed, ok := p.commits[commitment]
	if !ok || committed == 0 {
		return nil, revert("No valid commitment")
	}
	if uint64(now) < uint64(committed)+uint64(p.minAge) {
		return nil, revert("Commitment too new")
	}
	if uint64(now) > uint64(committed)+uint64(p.maxAge) {
		return nil, revert("Commitment expired")
	}

	expires := p.expires[string(name)]
	if uint64(now) <= uint64(expires)+uint64(p.grace) {
		return nil, revert("Name not available")
	}

	cost := p.price(name, uint64(args.Duration))
	p.credit(cost)

	newExpiry := interfaces.LedgerTime(uint64(now) + uint64(args.Duration))
	p.expires[string(name)] = newExpiry
	delete(p.commits, commitment)

	return &interfaces.NameRegistered{
		Name:    append(interfaces.Name(nil), name...),
		Owner:   args.Owner,
		Expires: newExpiry,
		Cost:    cost,
	}, nil
}

func (p *program) renew(name []byte, duration uint64, now interfaces.LedgerTime) (interfaces.Event, error) {
	if len(name) > interfaces.MaxNameLength {
		return nil, revert("Name too long")
	}
	expires := p.expires[string(name)]
	if uint64(now) > uint64(expires)+uint64(p.grace) {
		return nil, revert("Name not renewable")
	}

	cost := p.price(name, duration)
	p.credit(cost)

	newExpiry := interfaces.LedgerTime(uint64(expires) + duration)
	p.expires[string(name)] = newExpiry
	return &interfaces.NameRenewed{
		Name:    append(interfaces.Name(nil), name...),
		Expires: newExpiry,
		Cost:    cost,
	}, nil
}

func (p *program) reserveNames(labels [][]byte) (interfaces.Event, error) {
	if len(labels) > interfaces.MaxReservedLabels {
		return nil, revert("Too many labels to reserve")
	}
	for _, l := range labels {
		if len(l) > interfaces.MaxNameLength {
			return nil, revert("Label too long")
		}
	}
	reserved := make([]interfaces.Name, len(labels))
	for i, l := range labels {
		p.reserved = append(p.reserved, append([]byte(nil), l...))
		reserved[i] = append(interfaces.Name(nil), l...)
	}
	return &interfaces.NamesReserved{Labels: reserved}, nil
}

func (p *program) credit(amount *big.Int) {
	p.balance.Add(p.balance, amount)
	if p.balance.Cmp(maxUint128) > 0 {
		p.balance.Set(maxUint128)
	}
}

func saturatingAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}
