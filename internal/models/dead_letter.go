package models

import (
	"time"
)

// DeadLetterStatus tracks the follow-up state of a failed refund attempt.
type DeadLetterStatus string

const (
	DeadLetterStatusPending   DeadLetterStatus = "pending"   // awaiting next sweeper pass or operator action
	DeadLetterStatusRecovered DeadLetterStatus = "recovered" // a later refund attempt succeeded
	DeadLetterStatusAbandoned DeadLetterStatus = "abandoned" // gave up after max attempts, needs manual transfer
)

// DeadLetterRefund records a refund attempt the sweeper could not complete.
// One row per task; repeated failures increment AttemptCount on the same row
// so the operator view stays readable.
type DeadLetterRefund struct {
	ID       string           `json:"id" gorm:"primaryKey"`
	TaskID   string           `json:"task_id" gorm:"not null;uniqueIndex"`
	EscrowID string           `json:"escrow_id" gorm:"not null;index"`
	Status   DeadLetterStatus `json:"status" gorm:"not null;default:pending;index"`

	AttemptCount int    `json:"attempt_count" gorm:"default:1"`
	MaxAttempts  int    `json:"max_attempts" gorm:"default:10"`
	LastError    string `json:"last_error" gorm:"type:text"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// RecordFailure notes one more failed attempt and flips to abandoned when the
// attempt budget is spent.
func (d *DeadLetterRefund) RecordFailure(errMsg string) {
	d.AttemptCount++
	d.LastError = errMsg
	if d.Status == "" {
		d.Status = DeadLetterStatusPending
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 10
	}
	if d.AttemptCount >= d.MaxAttempts {
		d.Status = DeadLetterStatusAbandoned
		now := time.Now()
		d.ResolvedAt = &now
	}
}

// MarkRecovered closes the record after a successful refund.
func (d *DeadLetterRefund) MarkRecovered() {
	d.Status = DeadLetterStatusRecovered
	now := time.Now()
	d.ResolvedAt = &now
}
