package orchestrator

import (
	"context"
	"time"

	"github.com/varanames/registrar-client/interfaces"
)

// Phase is the position of a registration intent in the commit-reveal flow.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseCommitting     Phase = "committing"
	PhaseAwaitingMinAge Phase = "awaiting_min_age"
	PhaseRegistering    Phase = "registering"
	PhaseSucceeded      Phase = "succeeded"
	PhaseFailed         Phase = "failed"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// ClaimRequest asks for name to be registered to owner for duration ticks.
type ClaimRequest struct {
	Name     interfaces.Name
	Owner    interfaces.OwnerID
	Duration interfaces.LedgerSpan
}

// IntentView is a point-in-time copy of a registration intent. It never
// carries the secret or salt.
type IntentView struct {
	ID       string                `json:"id"`
	Name     interfaces.Name       `json:"name"`
	Owner    interfaces.OwnerID    `json:"owner"`
	Duration interfaces.LedgerSpan `json:"duration"`
	Phase    Phase                 `json:"phase"`

	Commitment    *interfaces.Commitment `json:"commitment,omitempty"`
	CommitBlock   *interfaces.BlockRef   `json:"commit_block,omitempty"`
	CommittedAt   *time.Time             `json:"committed_at,omitempty"`
	RegisterAfter *time.Time             `json:"register_after,omitempty"`

	// LedgerCommittedAt is the commit time the registrar recorded.
	LedgerCommittedAt *time.Time `json:"ledger_committed_at,omitempty"`

	Result *interfaces.NameRegistered `json:"result,omitempty"`
	Error  string                     `json:"error,omitempty"`
	Err    error                      `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// intent is the orchestrator's working state for one attempt. Fields are
// guarded by Orchestrator.mu.
type intent struct {
	view IntentView

	secret interfaces.Secret
	salt   interfaces.Salt

	// ctx ends when the attempt is cancelled or its timeout elapses.
	ctx    context.Context
	cancel context.CancelFunc

	running   bool
	cancelled bool
}

func (in *intent) snapshot() IntentView {
	v := in.view
	if v.Commitment != nil {
		c := *v.Commitment
		v.Commitment = &c
	}
	if v.CommitBlock != nil {
		b := *v.CommitBlock
		v.CommitBlock = &b
	}
	return v
}
