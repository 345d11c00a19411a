package models

import "time"

// TokenRailEscrow is the token rail's own durable record of a custodial
// escrow. The token ledger has no escrow concept of its own, so this table
// is the rail-side truth that reconciliation reads. It is bookkeeping
// internal to the rail adapter and is never exposed through the API.
type TokenRailEscrow struct {
	ID               string    `gorm:"primaryKey;type:uuid"`
	TaskID           string    `gorm:"uniqueIndex;not null"`
	DepositorAddress string    `gorm:"not null"`
	Amount           int64     `gorm:"not null"`
	Phase            string    `gorm:"not null"` // locked | released | refunded
	DepositTxID      string
	SettleTicketID   string    // pending ticket of an in-flight release/refund
	SettlePhase      string    // phase the pending ticket settles to
	SettleTxID       string
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (TokenRailEscrow) TableName() string {
	return "token_rail_escrows"
}
