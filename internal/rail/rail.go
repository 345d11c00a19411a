package rail

import (
	"context"
)

// EscrowPhase is the rail-side view of an escrow, as reported by the ledger
// service or the on-chain contract. It is independent of the database record
// and is the source of truth during reconciliation.
type EscrowPhase string

const (
	PhaseUnknown  EscrowPhase = "unknown"
	PhaseLocked   EscrowPhase = "locked"
	PhaseReleased EscrowPhase = "released"
	PhaseRefunded EscrowPhase = "refunded"
)

// EscrowState is the rail-side escrow record returned by GetEscrowState.
type EscrowState struct {
	Exists    bool
	Depositor string
	Amount    int64
	Phase     EscrowPhase
}

// DepositProof selects how a deposit is evidenced. Exactly two shapes exist:
// an already-confirmed on-chain transaction (contract rail) or a signing
// credential used to build and broadcast a ledger transfer (token rail).
type DepositProof interface {
	proofKind() string
}

// OnChainProof carries the hash of a deposit transaction that has already
// been confirmed on chain. Recording it performs no new chain call.
type OnChainProof struct {
	TxHash string
}

func (OnChainProof) proofKind() string { return "on_chain" }

// LedgerProof carries the depositor's signing credential. The token rail
// uses it to build and broadcast the transfer itself.
type LedgerProof struct {
	SigningCredential string
}

func (LedgerProof) proofKind() string { return "ledger" }

// SettlementRail is the value-transfer boundary. Both implementations
// classify their errors as apperrors.RailError; raw transport errors never
// cross this interface.
//
// Implementations must reconcile ambiguous outcomes themselves: when a
// network call times out or fails without a definitive rejection, the rail
// re-queries its own state via GetEscrowState before reporting failure,
// because the transfer may have landed anyway.
type SettlementRail interface {
	// Name identifies the rail ("token" or "contract").
	Name() string

	// Deposit locks funds for the task and returns the rail transaction id.
	Deposit(ctx context.Context, taskID string, amount int64, proof DepositProof) (string, error)

	// Release pays the locked amount out to recipient.
	Release(ctx context.Context, taskID string, recipient string) (string, error)

	// Refund returns the locked amount to the original depositor.
	Refund(ctx context.Context, taskID string) (string, error)

	// GetEscrowState queries rail-side truth for the task's escrow.
	GetEscrowState(ctx context.Context, taskID string) (*EscrowState, error)

	// Ready reports whether the rail's backing service is reachable.
	Ready(ctx context.Context) error
}
