// Package codec encodes registrar calls and decodes replies, reverts and events.
// It is the only place that knows the program's wire format.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/varanames/registrar-client/interfaces"
)

// Operation names as they appear in the ABI.
const (
	OpCommit         = "commit"
	OpRegister       = "register"
	OpRenew          = "renew"
	OpReserveNames   = "reserveNames"
	OpSetPrices      = "setPrices"
	OpSetCommitAges  = "setCommitAges"
	OpSetGracePeriod = "setGracePeriod"
	OpWithdraw       = "withdraw"
	OpAvailable      = "available"
	OpExpiryOf       = "expiryOf"
	OpPrice          = "price"
	OpReserved       = "reserved"
)

var (
	// ErrUnknownEvent is returned for logs whose topic is not a registrar event.
	ErrUnknownEvent = errors.New("unknown registrar event")

	revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
)

// Codec wraps the parsed registrar ABI.
type Codec struct {
	abi      abi.ABI
	byTopic  map[common.Hash]interfaces.EventKind
	revertTy abi.Arguments
}

// New parses the registrar ABI.
func New() (*Codec, error) {
	parsed, err := abi.JSON(strings.NewReader(RegistrarABI))
	if err != nil {
		return nil, fmt.Errorf("could not parse registrar ABI: %w", err)
	}

	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		abi:      parsed,
		byTopic:  make(map[common.Hash]interfaces.EventKind, len(interfaces.AllEventKinds)),
		revertTy: abi.Arguments{{Type: stringTy}},
	}
	for _, kind := range interfaces.AllEventKinds {
		ev, ok := parsed.Events[string(kind)]
		if !ok {
			return nil, fmt.Errorf("registrar ABI is missing event %s", kind)
		}
		c.byTopic[ev.ID] = kind
	}
	return c, nil
}

// MustNew is New for package-level initialization.
func MustNew() *Codec {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

// ABI exposes the parsed ABI.
func (c *Codec) ABI() *abi.ABI {
	return &c.abi
}

// EventID returns the log topic identifying kind.
func (c *Codec) EventID(kind interfaces.EventKind) common.Hash {
	return c.abi.Events[string(kind)].ID
}

// KindOf maps a log topic to its event kind.
func (c *Codec) KindOf(topic common.Hash) (interfaces.EventKind, bool) {
	kind, ok := c.byTopic[topic]
	return kind, ok
}

func (c *Codec) EncodeCommit(commitment interfaces.Commitment) ([]byte, error) {
	return c.abi.Pack(OpCommit, [32]byte(commitment))
}

func (c *Codec) EncodeRegister(args *interfaces.RegisterArgs) ([]byte, error) {
	return c.abi.Pack(OpRegister,
		[]byte(args.Name),
		[32]byte(args.Owner),
		uint64(args.Duration),
		[32]byte(args.Secret),
		[32]byte(args.Salt),
		args.Resolver,
	)
}

func (c *Codec) EncodeRenew(name interfaces.Name, duration interfaces.LedgerSpan) ([]byte, error) {
	return c.abi.Pack(OpRenew, []byte(name), uint64(duration))
}

func (c *Codec) EncodeReserveNames(labels []interfaces.Name) ([]byte, error) {
	raw := make([][]byte, len(labels))
	for i, l := range labels {
		raw[i] = []byte(l)
	}
	return c.abi.Pack(OpReserveNames, raw)
}

func (c *Codec) EncodeSetPrices(base, premium *big.Int) ([]byte, error) {
	return c.abi.Pack(OpSetPrices, base, premium)
}

func (c *Codec) EncodeSetCommitAges(min, max interfaces.LedgerSpan) ([]byte, error) {
	return c.abi.Pack(OpSetCommitAges, uint64(min), uint64(max))
}

func (c *Codec) EncodeSetGracePeriod(grace interfaces.LedgerSpan) ([]byte, error) {
	return c.abi.Pack(OpSetGracePeriod, uint64(grace))
}

func (c *Codec) EncodeWithdraw(to interfaces.OwnerID, amount *big.Int) ([]byte, error) {
	return c.abi.Pack(OpWithdraw, [32]byte(to), amount)
}

func (c *Codec) EncodeAvailable(name interfaces.Name) ([]byte, error) {
	return c.abi.Pack(OpAvailable, []byte(name))
}

func (c *Codec) EncodeExpiryOf(name interfaces.Name) ([]byte, error) {
	return c.abi.Pack(OpExpiryOf, []byte(name))
}

func (c *Codec) EncodePrice(name interfaces.Name, duration interfaces.LedgerSpan) ([]byte, error) {
	return c.abi.Pack(OpPrice, []byte(name), uint64(duration))
}

func (c *Codec) EncodeReserved(name interfaces.Name) ([]byte, error) {
	return c.abi.Pack(OpReserved, []byte(name))
}

func (c *Codec) DecodeAvailable(reply []byte) (bool, error) {
	return c.decodeBool(OpAvailable, reply)
}

func (c *Codec) DecodeReserved(reply []byte) (bool, error) {
	return c.decodeBool(OpReserved, reply)
}

// DecodeExpiryOf returns nil when the program reports no expiry.
func (c *Codec) DecodeExpiryOf(reply []byte) (*interfaces.LedgerTime, error) {
	out, err := c.abi.Unpack(OpExpiryOf, reply)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s reply: %w", OpExpiryOf, err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("could not decode %s reply: expected 2 values, got %d", OpExpiryOf, len(out))
	}
	found, ok := out[0].(bool)
	if !ok {
		return nil, fmt.Errorf("could not decode %s reply: unexpected type %T", OpExpiryOf, out[0])
	}
	if !found {
		return nil, nil
	}
	expires, ok := out[1].(uint64)
	if !ok {
		return nil, fmt.Errorf("could not decode %s reply: unexpected type %T", OpExpiryOf, out[1])
	}
	t := interfaces.LedgerTime(expires)
	return &t, nil
}

func (c *Codec) DecodePrice(reply []byte) (*big.Int, error) {
	out, err := c.abi.Unpack(OpPrice, reply)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s reply: %w", OpPrice, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("could not decode %s reply: expected 1 value, got %d", OpPrice, len(out))
	}
	price, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("could not decode %s reply: unexpected type %T", OpPrice, out[0])
	}
	return price, nil
}

func (c *Codec) decodeBool(op string, reply []byte) (bool, error) {
	out, err := c.abi.Unpack(op, reply)
	if err != nil {
		return false, fmt.Errorf("could not decode %s reply: %w", op, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("could not decode %s reply: expected 1 value, got %d", op, len(out))
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("could not decode %s reply: unexpected type %T", op, out[0])
	}
	return v, nil
}

// DecodeCall splits call data into the method and its arguments.
func (c *Codec) DecodeCall(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("call data shorter than method selector")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("could not decode %s arguments: %w", method.Name, err)
	}
	return method, args, nil
}

// EncodeReply packs the outputs of a view method.
func (c *Codec) EncodeReply(op string, values ...interface{}) ([]byte, error) {
	method, ok := c.abi.Methods[op]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", op)
	}
	return method.Outputs.Pack(values...)
}

// EncodeRevert packs msg the way the program reports errors.
func (c *Codec) EncodeRevert(msg string) []byte {
	packed, err := c.revertTy.Pack(msg)
	if err != nil {
		// Packing a plain string cannot fail.
		panic(err)
	}
	return append(append([]byte{}, revertSelector...), packed...)
}

// DecodeRevert extracts the program's error message. Payloads that are not
// Error(string) are rendered as hex.
func (c *Codec) DecodeRevert(data []byte) string {
	if len(data) == 0 {
		return "execution reverted"
	}
	if bytes.HasPrefix(data, revertSelector) {
		if msg, err := abi.UnpackRevert(data); err == nil {
			return msg
		}
	}
	return fmt.Sprintf("execution reverted: %x", data)
}

// DecodeLog decodes a registrar log into its typed event.
func (c *Codec) DecodeLog(log *types.Log) (interfaces.Event, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	kind, ok := c.byTopic[log.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}
	values, err := c.abi.Unpack(string(kind), log.Data)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", kind, err)
	}
	ev, err := eventFromValues(kind, values)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", kind, err)
	}
	return ev, nil
}

// EncodeLog builds the topics and data a program emits for ev.
func (c *Codec) EncodeLog(address common.Address, ev interfaces.Event) (*types.Log, error) {
	kind := ev.Kind()
	abiEvent, ok := c.abi.Events[string(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %s", kind)
	}
	values, err := valuesFromEvent(ev)
	if err != nil {
		return nil, err
	}
	data, err := abiEvent.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("could not encode %s: %w", kind, err)
	}
	return &types.Log{
		Address: address,
		Topics:  []common.Hash{abiEvent.ID},
		Data:    data,
	}, nil
}
