package models

import (
	"time"
)

// PaymentMethod selects which settlement rail backs a task's escrow.
type PaymentMethod string

const (
	PaymentMethodToken    PaymentMethod = "token"    // direct ledger-to-ledger transfer rail
	PaymentMethodContract PaymentMethod = "contract" // on-chain escrow contract rail
)

// Task lifecycle status. Transitions are owned by the settlement service;
// COMPLETED and CANCELLED are terminal.
type TaskStatus string

const (
	TaskStatusPendingDeposit TaskStatus = "pending_deposit"
	TaskStatusActive         TaskStatus = "active"
	TaskStatusSubmitted      TaskStatus = "submitted"
	TaskStatusCompleted      TaskStatus = "completed"
	TaskStatusCancelled      TaskStatus = "cancelled"
	TaskStatusDisputed       TaskStatus = "disputed"
)

// IsTerminal reports whether no further transition may leave this status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Escrow status. locked -> released and locked -> refunded are the only legal
// transitions; both are terminal and mutually exclusive.
type EscrowStatus string

const (
	EscrowStatusLocked   EscrowStatus = "locked"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusApproved SubmissionStatus = "approved"
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

type VerificationStatus string

const (
	VerificationStatusProcessing VerificationStatus = "processing"
	VerificationStatusCompleted  VerificationStatus = "completed"
	VerificationStatusFailed     VerificationStatus = "failed"
)

// VerificationCriteria is the employer-authored rubric handed to the judge.
// Stored as JSONB on the task.
type VerificationCriteria struct {
	Requirements     []string `json:"requirements"`
	QualityThreshold float64  `json:"quality_threshold"`
	AdditionalNotes  string   `json:"additional_notes,omitempty"`
}

// Milestone amounts are informational only: release always moves the whole
// escrow.
type Milestone struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Task is the unit of work an employer funds. CreatorID is immutable after
// creation.
type Task struct {
	ID              string        `json:"id" gorm:"primaryKey"`
	CreatorID       string        `json:"creator_id" gorm:"not null;index"`
	Title           string        `json:"title" gorm:"not null"`
	Description     string        `json:"description" gorm:"type:text"`
	TotalBudget     int64         `json:"total_budget" gorm:"not null"` // atomic units
	PaymentMethod   PaymentMethod `json:"payment_method" gorm:"not null"`
	Status          TaskStatus    `json:"status" gorm:"not null;index"`
	DeliverableType string        `json:"deliverable_type"`

	Milestones           string `json:"-" gorm:"type:jsonb;column:milestones"`            // JSON-encoded []Milestone
	VerificationCriteria string `json:"-" gorm:"type:jsonb;column:verification_criteria"` // JSON-encoded VerificationCriteria

	Deadline      *time.Time `json:"deadline,omitempty"`
	RecipientHint string     `json:"recipient_hint,omitempty"` // developer payout address, if known up front
	CancelReason  string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Escrow is the locked-funds record backing a single task's settlement. A
// task has at most one escrow outside released/refunded at any time. Amount
// is fixed at deposit and never mutated.
type Escrow struct {
	ID            string        `json:"id" gorm:"primaryKey"`
	TaskID        string        `json:"task_id" gorm:"not null;uniqueIndex"`
	DepositorID   string        `json:"depositor_id" gorm:"not null;index"`
	Amount        int64         `json:"amount" gorm:"not null"`
	PaymentMethod PaymentMethod `json:"payment_method" gorm:"not null"`
	Status        EscrowStatus  `json:"status" gorm:"not null;index"`

	DepositedAt time.Time  `json:"deposited_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"` // set exactly once, on release
	RefundedAt  *time.Time `json:"refunded_at,omitempty"` // set exactly once, on refund

	SenderAddress    string `json:"sender_address,omitempty"`    // refund destination, recorded at deposit
	RecipientAddress string `json:"recipient_address,omitempty"` // payout destination, recorded at release

	// Rail bookkeeping. RailTicketID holds the token rail's async ticket
	// until it resolves to a final transaction id.
	RailTransactionID string `json:"rail_transaction_id,omitempty"`
	RailTicketID      string `json:"rail_ticket_id,omitempty"`
	RefundReason      string `json:"refund_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VerificationResult is the judge's verdict for one submission. Stored as
// JSONB on the submission.
type VerificationResult struct {
	Verdict    string    `json:"verdict"` // "passed" | "failed"
	Score      int       `json:"score"`   // 0-100
	Summary    string    `json:"summary"`
	Details    []string  `json:"details,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

const (
	VerdictPassed = "passed"
	VerdictFailed = "failed"
)

// Submission is one deliverable attempt against a task. Only the latest
// submission matters for settlement; earlier rejected ones are kept for
// history.
type Submission struct {
	ID          string `json:"id" gorm:"primaryKey"`
	TaskID      string `json:"task_id" gorm:"not null;index"`
	SubmitterID string `json:"submitter_id" gorm:"not null;index"`

	PayloadRef string `json:"payload_ref" gorm:"not null"` // opaque link to the deliverable
	Notes      string `json:"notes" gorm:"type:text"`

	Status             SubmissionStatus   `json:"status" gorm:"not null"`
	VerificationStatus VerificationStatus `json:"verification_status" gorm:"not null"`
	VerificationResult string             `json:"-" gorm:"type:jsonb;column:verification_result"` // JSON-encoded VerificationResult

	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
	DisputeStatusRejected DisputeStatus = "rejected"
)

// Dispute freezes release/refund on a task until a resolver routes the escrow
// to one of the two terminal outcomes.
type Dispute struct {
	ID           string        `json:"id" gorm:"primaryKey"`
	TaskID       string        `json:"task_id" gorm:"not null;index"`
	SubmissionID string        `json:"submission_id,omitempty"`
	OpenedBy     string        `json:"opened_by" gorm:"not null"`
	Reason       string        `json:"reason" gorm:"not null"`
	Description  string        `json:"description" gorm:"type:text"`
	Status       DisputeStatus `json:"status" gorm:"not null;index"`
	Resolution   string        `json:"resolution,omitempty"`

	OpenedAt   time.Time  `json:"opened_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
