package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxNameLength is the longest label, in bytes, the registrar accepts.
const MaxNameLength = 256

// MaxReservedLabels is the largest batch accepted by ReserveNames.
const MaxReservedLabels = 100

// ProgramID is the on-chain address of the registrar program.
type ProgramID = common.Address

// Name is a UTF-8 label without dots. It is never mutated once encoded.
type Name []byte

// NewName validates a label and returns it as a Name.
func NewName(label string) (Name, error) {
	n := Name(label)
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks the label against the registrar's shape rules.
func (n Name) Validate() error {
	switch {
	case len(n) == 0:
		return &ValidationError{Field: "name", Reason: "empty"}
	case len(n) > MaxNameLength:
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%d bytes exceeds maximum of %d", len(n), MaxNameLength)}
	case bytes.IndexByte(n, '.') >= 0:
		return &ValidationError{Field: "name", Reason: "must be a single label without dots"}
	}
	return nil
}

// String returns the label as text.
func (n Name) String() string {
	return string(n)
}

// OwnerID is the 32-byte identity of the account a name is registered to.
type OwnerID [32]byte

// NewOwnerIDFromBytes copies a 32-byte identity.
func NewOwnerIDFromBytes(b []byte) (OwnerID, error) {
	if len(b) != 32 {
		return OwnerID{}, &ValidationError{Field: "owner", Reason: fmt.Sprintf("expected 32 bytes, got %d", len(b))}
	}
	var res OwnerID
	copy(res[:], b)
	return res, nil
}

// NewOwnerIDFromHex parses a 64-char hex identity, with or without 0x prefix.
func NewOwnerIDFromHex(s string) (OwnerID, error) {
	clean := strings.TrimPrefix(s, "0x")
	if len(clean) != 64 {
		return OwnerID{}, &ValidationError{Field: "owner", Reason: "hex string must be 64 characters"}
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return OwnerID{}, &ValidationError{Field: "owner", Reason: fmt.Sprintf("invalid hex: %v", err)}
	}
	return NewOwnerIDFromBytes(b)
}

// OwnerIDFromAddress left-pads a 20-byte account address into an owner identity.
func OwnerIDFromAddress(addr common.Address) OwnerID {
	return OwnerID(common.BytesToHash(addr.Bytes()))
}

// String returns the 0x-prefixed hex form.
func (o OwnerID) String() string {
	return "0x" + hex.EncodeToString(o[:])
}

// Secret is the client-held blinding value revealed at registration.
type Secret [32]byte

// Salt is the second client-held blinding value revealed at registration.
type Salt [32]byte

// Commitment is the blake2b-256 digest submitted in the commit phase.
type Commitment [32]byte

// String returns the 0x-prefixed hex form.
func (c Commitment) String() string {
	return "0x" + hex.EncodeToString(c[:])
}

// LedgerTime is a ledger timestamp counted in the deployment's TimeUnit.
type LedgerTime uint64

// LedgerSpan is a duration counted in the deployment's TimeUnit.
type LedgerSpan uint64

// TimeUnit is the length of one ledger time tick, e.g. time.Millisecond.
// All conversions between ledger values and time.Duration go through it.
type TimeUnit time.Duration

// ErrInexactDuration is returned when a duration is not a whole number of ledger ticks.
var ErrInexactDuration = errors.New("duration is not a whole multiple of the ledger time unit")

// Validate checks the unit is positive.
func (u TimeUnit) Validate() error {
	if u <= 0 {
		return &ValidationError{Field: "time_unit", Reason: "must be positive"}
	}
	return nil
}

// Duration converts a ledger span to wall-clock time.
func (u TimeUnit) Duration(s LedgerSpan) (time.Duration, error) {
	if s > LedgerSpan(math.MaxInt64/int64(u)) {
		return 0, fmt.Errorf("ledger span %d overflows time.Duration", s)
	}
	return time.Duration(s) * time.Duration(u), nil
}

// Span converts a wall-clock duration to ledger ticks. Durations that do not
// divide evenly are rejected rather than rounded.
func (u TimeUnit) Span(d time.Duration) (LedgerSpan, error) {
	if d < 0 {
		return 0, &ValidationError{Field: "duration", Reason: "must not be negative"}
	}
	if d%time.Duration(u) != 0 {
		return 0, fmt.Errorf("%w: %s / %s", ErrInexactDuration, d, time.Duration(u))
	}
	return LedgerSpan(d / time.Duration(u)), nil
}

// Time converts a ledger timestamp to wall-clock time.
func (u TimeUnit) Time(t LedgerTime) time.Time {
	return time.Unix(0, 0).Add(time.Duration(t) * time.Duration(u))
}

// At converts a wall-clock time to a ledger timestamp, truncating sub-tick precision.
func (u TimeUnit) At(t time.Time) LedgerTime {
	return LedgerTime(t.UnixNano() / int64(u))
}

// BlockRef marks the block a transaction was included in, or the block a query ran against.
type BlockRef struct {
	Number uint64      `json:"number"`
	Hash   common.Hash `json:"hash"`
}

// StatusKind enumerates the resolved states of a name.
type StatusKind string

const (
	StatusAvailable     StatusKind = "available"
	StatusActive        StatusKind = "active"
	StatusInGracePeriod StatusKind = "grace_period"
	StatusReserved      StatusKind = "reserved"
	// StatusUnavailable means the name cannot be registered but the ledger
	// exposes neither an expiry nor a reservation for it.
	StatusUnavailable StatusKind = "unavailable"
)

// NameStatus is the resolved state of a name at one block.
type NameStatus struct {
	Name   Name        `json:"-"`
	Kind   StatusKind  `json:"status"`
	Expiry *LedgerTime `json:"expiry,omitempty"`
}

// MarshalText encodes the label as plain text.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n), nil
}

// UnmarshalText accepts the label as plain text.
func (n *Name) UnmarshalText(b []byte) error {
	*n = append(Name(nil), b...)
	return nil
}

func (o OwnerID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *OwnerID) UnmarshalText(b []byte) error {
	id, err := NewOwnerIDFromHex(string(b))
	if err != nil {
		return err
	}
	*o = id
	return nil
}

func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
