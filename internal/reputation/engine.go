package reputation

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

// Engine implements the sealed dual-reveal exchange and score aggregation.
// It reads task state from the Task Board rather than owning it, since
// reputation depends on board (§2's dependency order) and never writes to
// board_* tables.
type Engine struct {
	db     *gorm.DB
	events *eventlog.Store
	board  *clients.BoardClient
}

func NewEngine(db *gorm.DB, events *eventlog.Store, board *clients.BoardClient) *Engine {
	return &Engine{db: db, events: events, board: board}
}

// SubmitFeedback accepts exactly one feedback row per (task, from, to)
// direction, only once the task has reached a terminal paying state
// (approved or ruled), per §4.4.
func (e *Engine) SubmitFeedback(ctx context.Context, taskID, fromAgent string, rating Rating, comment *string) (*Feedback, error) {
	if _, ok := ratingScore(rating); !ok {
		return nil, httpx.Validation("unknown rating")
	}
	if comment != nil && len(*comment) > 256 {
		return nil, httpx.Validation("comment exceeds 256 characters")
	}

	task, err := e.board.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != "approved" && task.Status != "ruled" {
		return nil, httpx.Conflict("feedback is only accepted once a task has reached a paying state")
	}

	var role Role
	var category Category
	var toAgent string
	switch fromAgent {
	case task.Poster:
		role, category, toAgent = RolePoster, CategoryDeliveryQuality, task.Worker
	case task.Worker:
		role, category, toAgent = RoleWorker, CategorySpecQuality, task.Poster
	default:
		return nil, httpx.Auth("caller is not a party to this task")
	}
	if toAgent == "" {
		return nil, httpx.Fatal("task has no counterparty recorded")
	}

	fb := Feedback{
		FeedbackID:  "fb-" + uuid.NewString(),
		TaskID:      taskID,
		FromAgent:   fromAgent,
		ToAgent:     toAgent,
		Role:        role,
		Category:    category,
		Rating:      rating,
		Comment:     comment,
		SubmittedAt: time.Now().UTC(),
		Visible:     false,
	}

	var revealedEvents []*eventlog.Record
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&fb).Error; err != nil {
			if isUniqueViolation(err) {
				return httpx.Conflict("feedback already submitted for this direction")
			}
			return err
		}

		var counterpart Feedback
		err := tx.First(&counterpart, "task_id = ? AND from_agent = ? AND to_agent = ?", taskID, toAgent, fromAgent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		fb.Visible = true
		counterpart.Visible = true
		if err := tx.Save(&fb).Error; err != nil {
			return err
		}
		if err := tx.Save(&counterpart).Error; err != nil {
			return err
		}

		if err := recomputeScore(tx, fb.ToAgent, fb.Category); err != nil {
			return err
		}
		if err := recomputeScore(tx, counterpart.ToAgent, counterpart.Category); err != nil {
			return err
		}

		rec1, err := e.events.Append(tx, "reputation", &taskID, &fb.ToAgent,
			fb.FeedbackID+" revealed", eventlog.FeedbackRevealed{TaskID: taskID, FeedbackID: fb.FeedbackID, From: fb.FromAgent, To: fb.ToAgent, Category: string(fb.Category)})
		if err != nil {
			return err
		}
		rec2, err := e.events.Append(tx, "reputation", &taskID, &counterpart.ToAgent,
			counterpart.FeedbackID+" revealed", eventlog.FeedbackRevealed{TaskID: taskID, FeedbackID: counterpart.FeedbackID, From: counterpart.FromAgent, To: counterpart.ToAgent, Category: string(counterpart.Category)})
		if err != nil {
			return err
		}
		revealedEvents = []*eventlog.Record{rec1, rec2}
		return nil
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	for _, rec := range revealedEvents {
		e.events.Publish(rec)
	}
	return &fb, nil
}

// recomputeScore must run inside the caller's transaction: it averages the
// numeric-coded rating over every currently-revealed feedback row targeting
// agentID in category, rounds to nearest integer, and upserts the score row.
func recomputeScore(tx *gorm.DB, agentID string, category Category) error {
	var rows []Feedback
	if err := tx.Where("to_agent = ? AND category = ? AND visible = ?", agentID, category, true).Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	sum := 0
	for _, r := range rows {
		v, _ := ratingScore(r.Rating)
		sum += v
	}
	mean := math.Round(float64(sum) / float64(len(rows)))

	var existing Score
	err := tx.First(&existing, "agent_id = ? AND category = ?", agentID, category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&Score{AgentID: agentID, Category: category, Value: int(mean), UpdatedAt: time.Now().UTC()}).Error
	}
	if err != nil {
		return err
	}
	existing.Value = int(mean)
	existing.UpdatedAt = time.Now().UTC()
	return tx.Save(&existing).Error
}

// FeedbackView is the reveal-aware projection returned by GetFeedbackForTask:
// sealed rows report only that a submission exists, per §4.4's "the
// counterparty is told only whether their counter-party has submitted."
type FeedbackView struct {
	FeedbackID string
	FromAgent  string
	ToAgent    string
	Role       Role
	Category   Category
	Visible    bool
	Rating     *Rating
	Comment    *string
	SubmittedAt time.Time
}

func (e *Engine) GetFeedbackForTask(taskID string) ([]FeedbackView, error) {
	var rows []Feedback
	if err := e.db.Where("task_id = ?", taskID).Order("submitted_at ASC").Find(&rows).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	views := make([]FeedbackView, 0, len(rows))
	for _, r := range rows {
		v := FeedbackView{
			FeedbackID:  r.FeedbackID,
			FromAgent:   r.FromAgent,
			ToAgent:     r.ToAgent,
			Role:        r.Role,
			Category:    r.Category,
			Visible:     r.Visible,
			SubmittedAt: r.SubmittedAt,
		}
		if r.Visible {
			rating := r.Rating
			v.Rating = &rating
			v.Comment = r.Comment
		}
		views = append(views, v)
	}
	return views, nil
}

// AgentScores returns both per-category scores, defaulting to 100 for a
// category with no revealed feedback yet, per §4.4's "initialized at 100."
func (e *Engine) AgentScores(agentID string) (map[Category]int, error) {
	scores := map[Category]int{
		CategorySpecQuality:     100,
		CategoryDeliveryQuality: 100,
	}
	var rows []Score
	if err := e.db.Where("agent_id = ?", agentID).Find(&rows).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	for _, r := range rows {
		scores[r.Category] = r.Value
	}
	return scores, nil
}

// FeedbackCounts returns, per category, how many revealed feedback rows
// back an agent's current score.
func (e *Engine) FeedbackCounts(agentID string) (map[Category]int, error) {
	counts := map[Category]int{
		CategorySpecQuality:     0,
		CategoryDeliveryQuality: 0,
	}
	var rows []Feedback
	if err := e.db.Where("to_agent = ? AND visible = ?", agentID, true).Find(&rows).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	for _, r := range rows {
		counts[r.Category]++
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
