// Package reputation implements the sealed dual-reveal feedback exchange
// and per-category score aggregation of §4.4.
package reputation

import (
	"time"

	"gorm.io/gorm"

	"agoraeconomy/internal/httpx"
)

// Role enumerates which side of the contract a feedback row was submitted by.
type Role string

const (
	RolePoster Role = "poster"
	RoleWorker Role = "worker"
)

// Category enumerates the two feedback dimensions.
type Category string

const (
	CategorySpecQuality     Category = "spec_quality"
	CategoryDeliveryQuality Category = "delivery_quality"
)

// Rating is the three-valued satisfaction scale of §4.4.
type Rating string

const (
	RatingDissatisfied        Rating = "dissatisfied"
	RatingSatisfied           Rating = "satisfied"
	RatingExtremelySatisfied  Rating = "extremely_satisfied"
)

// ratingScore maps a rating to its numeric-coded value for aggregation.
func ratingScore(r Rating) (int, bool) {
	switch r {
	case RatingDissatisfied:
		return 0, true
	case RatingSatisfied:
		return 50, true
	case RatingExtremelySatisfied:
		return 100, true
	default:
		return 0, false
	}
}

// Feedback is the reputation_feedback row. Unique per (task_id, from_agent,
// to_agent); visibility flips for both rows of a task atomically the moment
// the second is written, per §4.4's reveal policy.
type Feedback struct {
	FeedbackID string `gorm:"primaryKey;column:feedback_id"`
	TaskID     string `gorm:"uniqueIndex:idx_feedback_direction;column:task_id"`
	FromAgent  string `gorm:"uniqueIndex:idx_feedback_direction;column:from_agent"`
	ToAgent    string `gorm:"uniqueIndex:idx_feedback_direction;column:to_agent"`
	Role       Role
	Category   Category
	Rating     Rating
	Comment    *string
	SubmittedAt time.Time
	Visible    bool
}

func (Feedback) TableName() string { return "reputation_feedback" }

// Score is the reputation_scores row: one row per (agent, category),
// recomputed on every new revealed feedback targeting that agent/category.
type Score struct {
	AgentID  string `gorm:"primaryKey;column:agent_id;uniqueIndex:idx_score"`
	Category Category `gorm:"primaryKey;uniqueIndex:idx_score"`
	Value    int
	UpdatedAt time.Time
}

func (Score) TableName() string { return "reputation_scores" }

func AutoMigrate(db *gorm.DB) error {
	for _, model := range []any{&Feedback{}, &Score{}} {
		if err := db.AutoMigrate(model); err != nil {
			return err
		}
	}
	if err := httpx.MigrateAudit(db, "reputation_audit_log"); err != nil {
		return err
	}
	return httpx.MigrateIdempotency(db, "reputation_idempotency_keys")
}
