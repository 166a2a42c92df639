package interfaces

import (
	"math/big"
)

// EventKind names one of the registrar's event types. The value equals the
// event's name in the program ABI.
type EventKind string

const (
	CommitSubmittedKind EventKind = "CommitSubmitted"
	NameRegisteredKind  EventKind = "NameRegistered"
	NameRenewedKind     EventKind = "NameRenewed"
	PricesSetKind       EventKind = "PricesSet"
	CommitAgesSetKind   EventKind = "CommitAgesSet"
	GracePeriodSetKind  EventKind = "GracePeriodSet"
	NamesReservedKind   EventKind = "NamesReserved"
	WithdrawnKind       EventKind = "Withdrawn"
)

// AllEventKinds lists every kind in ABI order.
var AllEventKinds = []EventKind{
	CommitSubmittedKind,
	NameRegisteredKind,
	NameRenewedKind,
	PricesSetKind,
	CommitAgesSetKind,
	GracePeriodSetKind,
	NamesReservedKind,
	WithdrawnKind,
}

// Event is a decoded registrar event.
type Event interface {
	Kind() EventKind
}

type CommitSubmitted struct {
	Commitment Commitment `json:"commitment"`
	Timestamp  LedgerTime `json:"timestamp"`
}

type NameRegistered struct {
	Name    Name       `json:"name"`
	Owner   OwnerID    `json:"owner"`
	Expires LedgerTime `json:"expires"`
	Cost    *big.Int   `json:"cost"`
}

type NameRenewed struct {
	Name    Name       `json:"name"`
	Expires LedgerTime `json:"expires"`
	Cost    *big.Int   `json:"cost"`
}

type PricesSet struct {
	Base    *big.Int `json:"base"`
	Premium *big.Int `json:"premium"`
}

type CommitAgesSet struct {
	Min LedgerSpan `json:"min"`
	Max LedgerSpan `json:"max"`
}

type GracePeriodSet struct {
	Grace LedgerSpan `json:"grace"`
}

type NamesReserved struct {
	Labels []Name `json:"labels"`
}

type Withdrawn struct {
	To     OwnerID  `json:"to"`
	Amount *big.Int `json:"amount"`
}

func (*CommitSubmitted) Kind() EventKind { return CommitSubmittedKind }
func (*NameRegistered) Kind() EventKind  { return NameRegisteredKind }
func (*NameRenewed) Kind() EventKind     { return NameRenewedKind }
func (*PricesSet) Kind() EventKind       { return PricesSetKind }
func (*CommitAgesSet) Kind() EventKind   { return CommitAgesSetKind }
func (*GracePeriodSet) Kind() EventKind  { return GracePeriodSetKind }
func (*NamesReserved) Kind() EventKind   { return NamesReservedKind }
func (*Withdrawn) Kind() EventKind       { return WithdrawnKind }
