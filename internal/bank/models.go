// Package bank implements the Central Bank: one account per agent, an
// idempotent ledger, escrow locking/release/split, and periodic salary.
package bank

import (
	"time"

	"gorm.io/gorm"

	"agoraeconomy/internal/httpx"
)

// Account is the bank_accounts row. One per agent; balance never negative.
type Account struct {
	AccountID string `gorm:"primaryKey;column:account_id"`
	Balance   int64
	CreatedAt time.Time
}

func (Account) TableName() string { return "bank_accounts" }

// TransactionKind enumerates the three ledger entry kinds.
type TransactionKind string

const (
	KindCredit        TransactionKind = "credit"
	KindEscrowLock    TransactionKind = "escrow_lock"
	KindEscrowRelease TransactionKind = "escrow_release"
)

// Transaction is the bank_transactions row: the audit trail that also
// enforces idempotence via a unique (account_id, reference, kind) index.
type Transaction struct {
	TransactionID string `gorm:"primaryKey;column:transaction_id"`
	AccountID     string `gorm:"uniqueIndex:idx_tx_idempotent;column:account_id"`
	Kind          TransactionKind `gorm:"uniqueIndex:idx_tx_idempotent"`
	Amount        int64
	Balance       int64
	Reference     string `gorm:"uniqueIndex:idx_tx_idempotent"`
	CreatedAt     time.Time
}

func (Transaction) TableName() string { return "bank_transactions" }

// EscrowStatus enumerates the lifecycle of a bank escrow row.
type EscrowStatus string

const (
	EscrowLocked   EscrowStatus = "locked"
	EscrowReleased EscrowStatus = "released"
	EscrowSplit    EscrowStatus = "split"
)

// Escrow is the bank_escrows row. A task has at most one escrow for its
// lifetime; the unique index on task_id enforces the "escrow_exists" check
// at lock time as well as the data model's one-escrow-per-task invariant.
type Escrow struct {
	EscrowID     string `gorm:"primaryKey;column:escrow_id"`
	Payer        string
	Amount       int64
	TaskID       string `gorm:"uniqueIndex;column:task_id"`
	Status       EscrowStatus
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

func (Escrow) TableName() string { return "bank_escrows" }

// SalaryLock is the single advisory-lock row guaranteeing only one scheduler
// instance runs the salary job at a time, per §9's "Global scheduler" note.
type SalaryLock struct {
	ID           uint `gorm:"primaryKey"`
	LastRoundID  string
	LastPaidAt   time.Time
}

func (SalaryLock) TableName() string { return "bank_locks" }

func AutoMigrate(db *gorm.DB) error {
	for _, model := range []any{&Account{}, &Transaction{}, &Escrow{}, &SalaryLock{}} {
		if err := db.AutoMigrate(model); err != nil {
			return err
		}
	}
	if err := httpx.MigrateAudit(db, "bank_audit_log"); err != nil {
		return err
	}
	return httpx.MigrateIdempotency(db, "bank_idempotency_keys")
}
