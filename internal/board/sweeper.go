package board

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

// Sweeper is the periodic timer tick of §4.3: it inspects all tasks and
// performs at most one transition per task per sweep. Re-running the sweep
// produces no additional effect because each transition's guard re-checks
// status under a row lock, same as an HTTP-triggered transition would.
type Sweeper struct {
	engine *Engine
	ctx    context.Context
	tick   time.Duration
	logger *slog.Logger
}

func NewSweeper(engine *Engine, tickInterval time.Duration, logger *slog.Logger) *Sweeper {
	if tickInterval <= 0 {
		tickInterval = 2 * time.Second
	}
	return &Sweeper{engine: engine, tick: tickInterval, logger: logger}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep applies the three timeout rules in the precedence order given in
// §4.3: expired-bidding takes precedence over execution-expiry when both
// happen to be in the past for the same task; since a task's status gates
// which branch even applies, in practice each task matches at most one rule.
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	var biddingExpired []Task
	if err := s.engine.db.Where("status = ? AND bidding_deadline <= ?", StatusOpen, now).Find(&biddingExpired).Error; err != nil {
		s.logger.Error("sweeper: query bidding-expired failed", "error", err.Error())
	} else {
		for _, t := range biddingExpired {
			s.expireBidding(ctx, t.TaskID)
		}
	}

	var executionExpired []Task
	if err := s.engine.db.Where("status = ? AND execution_deadline <= ?", StatusAccepted, now).Find(&executionExpired).Error; err != nil {
		s.logger.Error("sweeper: query execution-expired failed", "error", err.Error())
	} else {
		for _, t := range executionExpired {
			s.expireExecution(ctx, t.TaskID)
		}
	}

	var reviewExpired []Task
	if err := s.engine.db.Where("status = ? AND review_deadline <= ?", StatusSubmitted, now).Find(&reviewExpired).Error; err != nil {
		s.logger.Error("sweeper: query review-expired failed", "error", err.Error())
	} else {
		for _, t := range reviewExpired {
			if _, err := s.engine.transitionApproved(ctx, "", t.TaskID, true); err != nil {
				s.logger.Error("sweeper: auto-approve failed", "task_id", t.TaskID, "error", err.Error())
			}
		}
	}
}

func (s *Sweeper) expireBidding(ctx context.Context, taskID string) {
	if err := s.expire(ctx, taskID, StatusOpen, "bidding"); err != nil {
		s.logger.Error("sweeper: expire bidding failed", "task_id", taskID, "error", err.Error())
	}
}

func (s *Sweeper) expireExecution(ctx context.Context, taskID string) {
	if err := s.expire(ctx, taskID, StatusAccepted, "execution"); err != nil {
		s.logger.Error("sweeper: expire execution failed", "task_id", taskID, "error", err.Error())
	}
}

// expire returns escrow to the poster and only then commits the task to
// expired, mirroring CreateTask's compensate-on-failure discipline: the bank
// call happens first, and the row is never left stuck in a terminal status
// with its escrow still locked. fromStatus is re-checked under row lock in
// both phases to keep the sweep idempotent against a concurrent
// HTTP-triggered transition winning the race first.
func (s *Sweeper) expire(ctx context.Context, taskID string, fromStatus Status, reason string) error {
	e := s.engine
	var task Task
	if err := e.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
		return err
	}
	if task.Status != fromStatus {
		return nil
	}

	recipient := task.Poster
	if err := e.bank.ReleaseEscrow(ctx, task.EscrowID, recipient); err != nil {
		rec2, evErr := e.events.Append(e.db, "board", &taskID, nil,
			"failed to return escrow for expiring "+taskID, eventlog.InvariantViolation{Component: "board.sweeper", Detail: err.Error()})
		if evErr == nil {
			e.events.Publish(rec2)
		}
		return httpx.Fatal("escrow release on expiry failed: " + err.Error())
	}

	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
			return err
		}
		if task.Status != fromStatus {
			return nil
		}
		now := time.Now().UTC()
		task.ExpiredAt = &now
		task.ExpiredReason = &reason
		task.Status = StatusExpired
		if err := tx.Save(&task).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, nil,
			taskID+" expired ("+reason+")", eventlog.TaskExpired{TaskID: taskID, Reason: reason})
		return err
	})
	if err != nil || rec == nil {
		return err
	}
	e.events.Publish(rec)
	return nil
}
