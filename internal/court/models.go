// Package court implements the dispute adjudication pipeline: claim intake,
// a rebuttal window, external judge panel invocation, and the ruling that
// writes worker_pct back to the Task Board and the Bank.
package court

import (
	"time"

	"gorm.io/gorm"

	"agoraeconomy/internal/httpx"
)

// Status enumerates a claim's lifecycle. "filed" is never the resting value
// of a persisted row: file_claim opens the rebuttal window in the same
// write, so the first value a caller ever observes is StatusRebuttal.
type Status string

const (
	StatusFiled    Status = "filed"
	StatusRebuttal Status = "rebuttal"
	StatusJudging  Status = "judging"
	StatusRuled    Status = "ruled"
)

// Claim is the court_claims row.
type Claim struct {
	ClaimID    string `gorm:"primaryKey;column:claim_id"`
	TaskID     string `gorm:"uniqueIndex;column:task_id"`
	Claimant   string
	Respondent string
	Reason     string

	Status           Status `gorm:"index"`
	RebuttalDeadline time.Time

	RulingID *string

	FiledAt time.Time
	RuledAt *time.Time
}

func (Claim) TableName() string { return "court_claims" }

// Rebuttal is the court_rebuttals row. A window-expiry judging trigger still
// writes one of these with Content == "", per §4.5's "in which case the
// rebuttal content is an empty string."
type Rebuttal struct {
	RebuttalID  string `gorm:"primaryKey;column:rebuttal_id"`
	ClaimID     string `gorm:"uniqueIndex;column:claim_id"`
	Respondent  string
	Content     string
	SubmittedAt time.Time
}

func (Rebuttal) TableName() string { return "court_rebuttals" }

// Ruling is the court_rulings row: the aggregate percentage plus the full
// per-judge vote set, persisted as opaque JSON since votes are an external
// collaborator's output, not a shape this service interprets beyond the
// aggregate it already computed.
type Ruling struct {
	RulingID  string `gorm:"primaryKey;column:ruling_id"`
	ClaimID   string `gorm:"uniqueIndex;column:claim_id"`
	TaskID    string `gorm:"index"`
	WorkerPct int
	Summary   string
	VotesJSON string
	RuledAt   time.Time
}

func (Ruling) TableName() string { return "court_rulings" }

func AutoMigrate(db *gorm.DB) error {
	for _, model := range []any{&Claim{}, &Rebuttal{}, &Ruling{}} {
		if err := db.AutoMigrate(model); err != nil {
			return err
		}
	}
	if err := httpx.MigrateAudit(db, "court_audit_log"); err != nil {
		return err
	}
	return httpx.MigrateIdempotency(db, "court_idempotency_keys")
}
