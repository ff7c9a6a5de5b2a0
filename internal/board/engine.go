package board

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

// Engine implements every Task Board operation in §4.3. Cross-service calls
// to the bank are compensated on failure per §9: CreateTask releases the
// escrow it locked when the task row cannot be written, and approval
// (manual or on review timeout) and Cancel put the task back in its
// previous status when the escrow release fails.
type Engine struct {
	db     *gorm.DB
	events *eventlog.Store
	bank   *clients.BankClient
}

func NewEngine(db *gorm.DB, events *eventlog.Store, bank *clients.BankClient) *Engine {
	return &Engine{db: db, events: events, bank: bank}
}

// CreateTask verifies the preconditions of §4.3's "a task enters open at
// creation": positive reward, positive deadlines, then locks escrow from
// the poster before the task row exists. If the row write then fails, the
// locked escrow is released back to the poster so no funds are stranded.
func (e *Engine) CreateTask(ctx context.Context, poster, title, specification string, reward int64, biddingSecs, execSecs, reviewSecs int) (*Task, error) {
	if reward <= 0 {
		return nil, httpx.Validation("reward must be positive")
	}
	if biddingSecs <= 0 || execSecs <= 0 || reviewSecs <= 0 {
		return nil, httpx.Validation("deadlines must be positive")
	}

	taskID := "t-" + uuid.NewString()
	escrow, err := e.bank.LockEscrow(ctx, poster, reward, taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	biddingDeadline := now.Add(time.Duration(biddingSecs) * time.Second)
	task := Task{
		TaskID:                   taskID,
		Poster:                   poster,
		Title:                    title,
		Specification:            specification,
		Reward:                   reward,
		BiddingDeadlineSeconds:   biddingSecs,
		ExecutionDeadlineSeconds: execSecs,
		ReviewDeadlineSeconds:    reviewSecs,
		BiddingDeadline:          &biddingDeadline,
		EscrowID:                 escrow.EscrowID,
		Status:                   StatusOpen,
		CreatedAt:                now,
	}

	var rec *eventlog.Record
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, &poster,
			poster+" posted "+taskID, eventlog.TaskCreated{TaskID: taskID, Poster: poster, Reward: reward})
		return err
	})
	if err != nil {
		// compensate: return the escrow we already locked
		_ = e.bank.ReleaseEscrow(ctx, escrow.EscrowID, poster)
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &task, nil
}

// SubmitBid requires the task to be open and the bidder not to be the
// poster; (task, bidder) uniqueness is enforced by the storage layer.
func (e *Engine) SubmitBid(bidder, taskID, proposal string) (*Bid, error) {
	var bid Bid
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var task Task
		if err := tx.First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Status != StatusOpen {
			return httpx.Conflict("task is not open for bidding")
		}
		if bidder == task.Poster {
			return httpx.Validation("poster may not bid on their own task")
		}
		bid = Bid{
			BidID:       "bid-" + uuid.NewString(),
			TaskID:      taskID,
			Bidder:      bidder,
			Proposal:    proposal,
			SubmittedAt: time.Now().UTC(),
		}
		if err := tx.Create(&bid).Error; err != nil {
			if isUniqueViolation(err) {
				return httpx.Conflict("bid already submitted for this task")
			}
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, &bidder,
			bidder+" bid on "+taskID, eventlog.BidSubmitted{TaskID: taskID, BidID: bid.BidID, Bidder: bidder})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &bid, nil
}

// AcceptBid is the seed scenario 6 contention point: two concurrent accepts
// on the same task race for the row lock; the loser observes the winner's
// status and returns conflict rather than retrying blindly.
func (e *Engine) AcceptBid(caller, taskID, bidID string) (*Task, error) {
	var task Task
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Poster != caller {
			return httpx.Auth("only the poster may accept a bid")
		}
		if task.Status != StatusOpen {
			return httpx.Conflict("task is not open (observed status " + string(task.Status) + ")")
		}
		now := time.Now().UTC()
		if task.BiddingDeadline != nil && now.After(*task.BiddingDeadline) {
			return httpx.Conflict("bidding deadline has passed")
		}
		var bid Bid
		if err := tx.First(&bid, "bid_id = ? AND task_id = ?", bidID, taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("bid not found for this task")
			}
			return err
		}

		executionDeadline := now.Add(time.Duration(task.ExecutionDeadlineSeconds) * time.Second)
		task.WorkerID = &bid.Bidder
		task.AcceptedBidID = &bid.BidID
		task.AcceptedAt = &now
		task.ExecutionDeadline = &executionDeadline
		task.Status = StatusAccepted
		if err := tx.Save(&task).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, &bid.Bidder,
			caller+" accepted "+bidID+" for "+taskID,
			eventlog.TaskAccepted{TaskID: taskID, BidID: bidID, Worker: bid.Bidder})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &task, nil
}

// UploadAsset is allowed only while the task is accepted and only by the
// assigned worker, per §4.3's "Assets" paragraph.
func (e *Engine) UploadAsset(uploader, taskID, filename, mimeType string, size int64, storagePath string) (*Asset, error) {
	var asset Asset
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var task Task
		if err := tx.First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Status != StatusAccepted {
			return httpx.Conflict("assets may only be uploaded while accepted")
		}
		if task.WorkerID == nil || *task.WorkerID != uploader {
			return httpx.Auth("only the assigned worker may upload assets")
		}
		asset = Asset{
			AssetID:     "asset-" + uuid.NewString(),
			TaskID:      taskID,
			Uploader:    uploader,
			Filename:    filename,
			MimeType:    mimeType,
			Size:        size,
			StoragePath: storagePath,
			UploadedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&asset).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, &uploader,
			uploader+" uploaded "+asset.AssetID+" for "+taskID,
			eventlog.AssetUploaded{TaskID: taskID, AssetID: asset.AssetID, Uploader: uploader})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &asset, nil
}

// Submit requires accepted status, the caller to be the assigned worker,
// and the execution deadline not to have passed.
func (e *Engine) Submit(caller, taskID string) (*Task, error) {
	var task Task
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Status != StatusAccepted {
			return httpx.Conflict("task is not accepted (observed status " + string(task.Status) + ")")
		}
		if task.WorkerID == nil || *task.WorkerID != caller {
			return httpx.Auth("only the assigned worker may submit")
		}
		now := time.Now().UTC()
		if task.ExecutionDeadline != nil && now.After(*task.ExecutionDeadline) {
			return httpx.Conflict("execution deadline has passed")
		}
		reviewDeadline := now.Add(time.Duration(task.ReviewDeadlineSeconds) * time.Second)
		task.SubmittedAt = &now
		task.ReviewDeadline = &reviewDeadline
		task.Status = StatusSubmitted
		if err := tx.Save(&task).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, &caller,
			caller+" submitted "+taskID, eventlog.TaskSubmitted{TaskID: taskID})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &task, nil
}

// Approve requires submitted status and the caller to be the poster; on
// success it asks the bank to release escrow to the worker.
func (e *Engine) Approve(ctx context.Context, caller, taskID string) (*Task, error) {
	task, err := e.transitionApproved(ctx, caller, taskID, false)
	return task, err
}

func (e *Engine) transitionApproved(ctx context.Context, caller, taskID string, auto bool) (*Task, error) {
	var task Task
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Status != StatusSubmitted {
			return httpx.Conflict("task is not submitted (observed status " + string(task.Status) + ")")
		}
		if !auto && task.Poster != caller {
			return httpx.Auth("only the poster may approve")
		}
		now := time.Now().UTC()
		task.ApprovedAt = &now
		task.Status = StatusApproved
		return tx.Save(&task).Error
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}

	if err := e.bank.ReleaseEscrow(ctx, task.EscrowID, *task.WorkerID); err != nil {
		e.db.Model(&Task{}).Where("task_id = ? AND status = ?", taskID, StatusApproved).
			Updates(map[string]any{"status": StatusSubmitted, "approved_at": nil})
		return nil, err
	}

	var rec *eventlog.Record
	var evErr error
	if auto {
		rec, evErr = e.events.Append(e.db, "board", &taskID, task.WorkerID,
			taskID+" auto-approved on review timeout", eventlog.TaskAutoApproved{TaskID: taskID})
	} else {
		rec, evErr = e.events.Append(e.db, "board", &taskID, task.WorkerID,
			caller+" approved "+taskID, eventlog.TaskApproved{TaskID: taskID})
	}
	if evErr != nil {
		return nil, httpx.Fatal(evErr.Error())
	}
	e.events.Publish(rec)
	return &task, nil
}

// Dispute requires submitted status, caller is the poster, and the review
// deadline has not passed. Opening the Court claim itself is driven
// externally (Court depends on Board, not the reverse): the dispute event
// and the disputed status are what a claim-filer checks against.
func (e *Engine) Dispute(caller, taskID, reason string) (*Task, error) {
	var task Task
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Status != StatusSubmitted {
			return httpx.Conflict("task is not submitted (observed status " + string(task.Status) + ")")
		}
		if task.Poster != caller {
			return httpx.Auth("only the poster may dispute")
		}
		now := time.Now().UTC()
		if task.ReviewDeadline != nil && now.After(*task.ReviewDeadline) {
			return httpx.Conflict("review deadline has passed")
		}
		task.DisputedAt = &now
		task.DisputeReason = &reason
		task.Status = StatusDisputed
		if err := tx.Save(&task).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, &caller,
			caller+" disputed "+taskID, eventlog.TaskDisputed{TaskID: taskID, Reason: reason})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &task, nil
}

// Cancel is only valid while open (no bid accepted yet) and only by the
// poster; the locked escrow returns to the poster.
func (e *Engine) Cancel(ctx context.Context, caller, taskID string) (*Task, error) {
	var task Task
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Poster != caller {
			return httpx.Auth("only the poster may cancel")
		}
		if task.Status != StatusOpen {
			return httpx.Conflict("task may only be cancelled while open")
		}
		now := time.Now().UTC()
		task.CancelledAt = &now
		task.Status = StatusCancelled
		return tx.Save(&task).Error
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}

	if err := e.bank.ReleaseEscrow(ctx, task.EscrowID, task.Poster); err != nil {
		e.db.Model(&Task{}).Where("task_id = ? AND status = ?", taskID, StatusCancelled).
			Updates(map[string]any{"status": StatusOpen, "cancelled_at": nil})
		return nil, err
	}
	rec, err := e.events.Append(e.db, "board", &taskID, &caller,
		caller+" cancelled "+taskID, eventlog.TaskCancelled{TaskID: taskID})
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &task, nil
}

// RuleTask is the internal effect Court applies once a ruling is computed:
// it only records the ruling on the task row. Splitting the escrow is
// Court's own responsibility (it calls the bank directly), per §4.5.
func (e *Engine) RuleTask(taskID, rulingID string, workerPct int, summary string) (*Task, error) {
	var task Task
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, "task_id = ?", taskID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("task not found")
			}
			return err
		}
		if task.Status != StatusDisputed {
			return httpx.Conflict("task is not disputed (observed status " + string(task.Status) + ")")
		}
		now := time.Now().UTC()
		task.RulingID = &rulingID
		task.WorkerPct = &workerPct
		task.RulingSummary = &summary
		task.RuledAt = &now
		task.Status = StatusRuled
		if err := tx.Save(&task).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "board", &taskID, nil,
			taskID+" ruled "+rulingID, eventlog.TaskRuled{TaskID: taskID, RulingID: rulingID, WorkerPct: workerPct})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &task, nil
}

func (e *Engine) GetTask(taskID string) (*Task, error) {
	var task Task
	if err := e.db.First(&task, "task_id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.NotFound("task not found")
		}
		return nil, httpx.Fatal(err.Error())
	}
	return &task, nil
}

func (e *Engine) ListBids(taskID string) ([]Bid, error) {
	var bids []Bid
	if err := e.db.Where("task_id = ?", taskID).Order("submitted_at ASC").Find(&bids).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	return bids, nil
}

func (e *Engine) ListAssets(taskID string) ([]Asset, error) {
	var assets []Asset
	if err := e.db.Where("task_id = ?", taskID).Order("uploaded_at ASC").Find(&assets).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	return assets, nil
}

// ListTasks returns tasks, optionally filtered by status and/or poster.
func (e *Engine) ListTasks(status Status, poster string) ([]Task, error) {
	q := e.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if poster != "" {
		q = q.Where("poster = ?", poster)
	}
	var tasks []Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	return tasks, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
