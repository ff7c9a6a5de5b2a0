// Package board implements the Task Board: the task lifecycle state
// machine, bid intake, asset references, and the review-timeout sweeper.
// Per spec this is the densest component; its correctness is the system's
// correctness.
package board

import (
	"time"

	"gorm.io/gorm"

	"agoraeconomy/internal/httpx"
)

// Status enumerates the task lifecycle states of §4.3.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusDisputed  Status = "disputed"
	StatusRuled     Status = "ruled"
)

// Task is the board_tasks row. Deadlines are stored both as the configured
// duration (seconds, for audit) and the absolute instant computed on state
// entry, per the data model's "computed on state entry" wording.
type Task struct {
	TaskID        string `gorm:"primaryKey;column:task_id"`
	Poster        string `gorm:"index"`
	Title         string
	Specification string
	Reward        int64

	BiddingDeadlineSeconds   int
	ExecutionDeadlineSeconds int
	ReviewDeadlineSeconds    int

	BiddingDeadline   *time.Time
	ExecutionDeadline *time.Time
	ReviewDeadline    *time.Time

	EscrowID      string
	WorkerID      *string
	AcceptedBidID *string

	DisputeReason *string
	ExpiredReason *string

	RulingID      *string
	WorkerPct     *int
	RulingSummary *string

	Status Status `gorm:"index"`

	CreatedAt   time.Time
	AcceptedAt  *time.Time
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	CancelledAt *time.Time
	DisputedAt  *time.Time
	RuledAt     *time.Time
	ExpiredAt   *time.Time
}

func (Task) TableName() string { return "board_tasks" }

// Bid is the board_bids row. At most one per (task_id, bidder), enforced by
// the unique index rather than an application-level check, per §5's "unique
// index ... enforces at-most-once semantics at the storage layer."
type Bid struct {
	BidID       string `gorm:"primaryKey;column:bid_id"`
	TaskID      string `gorm:"uniqueIndex:idx_bid_once;column:task_id"`
	Bidder      string `gorm:"uniqueIndex:idx_bid_once"`
	Proposal    string
	SubmittedAt time.Time
}

func (Bid) TableName() string { return "board_bids" }

// Asset is the board_assets row: a reference into the (external) blob store
// consumed by the task board, per §1's "asset blob store ... out of scope."
type Asset struct {
	AssetID     string `gorm:"primaryKey;column:asset_id"`
	TaskID      string `gorm:"index;column:task_id"`
	Uploader    string
	Filename    string
	MimeType    string
	Size        int64
	StoragePath string
	UploadedAt  time.Time
}

func (Asset) TableName() string { return "board_assets" }

func AutoMigrate(db *gorm.DB) error {
	for _, model := range []any{&Task{}, &Bid{}, &Asset{}} {
		if err := db.AutoMigrate(model); err != nil {
			return err
		}
	}
	if err := httpx.MigrateAudit(db, "board_audit_log"); err != nil {
		return err
	}
	return httpx.MigrateIdempotency(db, "board_idempotency_keys")
}
