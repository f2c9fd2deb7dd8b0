package models

import (
	"time"
)

// OptStatus per-user escrow representation toggle
type OptStatus string

const (
	OptStatusOptedOut OptStatus = "opted_out" // user holds a raw underlying balance
	OptStatusOptedIn  OptStatus = "opted_in"  // user holds a vault share balance
)

// ObligationStatus lifecycle of a dispatched transfer obligation
type ObligationStatus string

const (
	ObligationStatusPending  ObligationStatus = "pending"  // transfer dispatched, not yet resolved
	ObligationStatusResolved ObligationStatus = "resolved" // cleared by a resolve message
)

// UserAccount per-user escrow balance book.
// Exactly one of the two balances is non-zero at a time: an opted-out user
// holds only underlying, an opted-in user holds only shares.
// Accounts are created implicitly on first deposit and never deleted.
type UserAccount struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Address           string    `gorm:"type:varchar(66);uniqueIndex;not null" json:"address"`
	UnderlyingBalance string    `gorm:"type:varchar(78);not null;default:'0'" json:"underlying_balance"`
	ShareBalance      string    `gorm:"type:varchar(78);not null;default:'0'" json:"share_balance"`
	OptStatus         OptStatus `gorm:"type:varchar(16);not null;default:'opted_out'" json:"opt_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName table name for UserAccount
func (UserAccount) TableName() string {
	return "user_accounts"
}

// Obligation value promised to a recipient by a settlement node, outstanding
// between dispatch and resolution. Keyed by recipient: at most one pending
// obligation per recipient per node.
type Obligation struct {
	ID        uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	NodeEid   uint32           `gorm:"index:idx_obligation_node_recipient;not null" json:"node_eid"`
	MessageID string           `gorm:"type:varchar(66);uniqueIndex;not null" json:"message_id"`
	Recipient string           `gorm:"type:varchar(66);index:idx_obligation_node_recipient;not null" json:"recipient"`
	Amount    string           `gorm:"type:varchar(78);not null" json:"amount"`
	Status    ObligationStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TableName table name for Obligation
func (Obligation) TableName() string {
	return "obligations"
}

// ProcessedMessage idempotency record: a message id a settlement node has
// already applied. Grows monotonically, never shrinks.
type ProcessedMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	NodeEid   uint32    `gorm:"uniqueIndex:idx_processed_node_message;not null" json:"node_eid"`
	MessageID string    `gorm:"type:varchar(66);uniqueIndex:idx_processed_node_message;not null" json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}

// LedgerEvent append-only record of every event the service emits
// (deposits, withdrawals, opt transitions, vault updates, transfer
// dispatches, resolutions).
type LedgerEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"type:varchar(48);index;not null" json:"type"`
	User      string    `gorm:"type:varchar(66);index" json:"user"`
	MessageID string    `gorm:"type:varchar(66);index" json:"message_id"`
	Amount    string    `gorm:"type:varchar(78)" json:"amount"`
	Data      string    `gorm:"type:text" json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName table name for LedgerEvent
func (LedgerEvent) TableName() string {
	return "ledger_events"
}

// Event type constants
const (
	EventTypeDeposit            = "escrow.deposit"
	EventTypeWithdraw           = "escrow.withdraw"
	EventTypeOptIn              = "escrow.opt_in"
	EventTypeOptOut             = "escrow.opt_out"
	EventTypeVaultUpdated       = "escrow.vault_updated"
	EventTypeTransferDispatched = "settlement.transfer_dispatched"
	EventTypeResolutionApplied  = "settlement.resolution_applied"
)
