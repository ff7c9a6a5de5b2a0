package court

import (
	"context"
	"encoding/json"
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

// Engine drives the claim/rebuttal/judging/ruled state machine and the
// cross-service effects a ruling produces.
type Engine struct {
	db             *gorm.DB
	events         *eventlog.Store
	board          *clients.BoardClient
	bank           *clients.BankClient
	panel          Panel
	panelSize      int
	judgeTimeout   time.Duration
	rebuttalWindow time.Duration
}

func NewEngine(db *gorm.DB, events *eventlog.Store, board *clients.BoardClient, bank *clients.BankClient, panel Panel, panelSize int, judgeTimeout, rebuttalWindow time.Duration) *Engine {
	return &Engine{
		db:             db,
		events:         events,
		board:          board,
		bank:           bank,
		panel:          panel,
		panelSize:      panelSize,
		judgeTimeout:   judgeTimeout,
		rebuttalWindow: rebuttalWindow,
	}
}

// FileClaim opens a claim against a disputed task. The rebuttal window
// opens in the same write, so the claim's persisted status is StatusRebuttal
// rather than StatusFiled (see models.go's comment on Status).
func (e *Engine) FileClaim(ctx context.Context, taskID, claimant, respondent, reason string) (*Claim, error) {
	task, err := e.board.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != "disputed" {
		return nil, httpx.Conflict("a claim may only be filed against a disputed task")
	}
	if claimant != task.Poster {
		return nil, httpx.Auth("only the poster may file a claim")
	}
	if respondent != task.Worker {
		return nil, httpx.Validation("respondent must be the task's accepted worker")
	}

	now := time.Now().UTC()
	claim := Claim{
		ClaimID:          "clm-" + uuid.NewString(),
		TaskID:           taskID,
		Claimant:         claimant,
		Respondent:       respondent,
		Reason:           reason,
		Status:           StatusRebuttal,
		RebuttalDeadline: now.Add(e.rebuttalWindow),
		FiledAt:          now,
	}

	var rec *eventlog.Record
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&claim).Error; err != nil {
			if isUniqueViolation(err) {
				return httpx.Conflict("a claim already exists for this task")
			}
			return err
		}
		rec, err = e.events.Append(tx, "court", &taskID, &claimant,
			claim.ClaimID+" filed", eventlog.ClaimFiled{ClaimID: claim.ClaimID, TaskID: taskID, Claimant: claimant, Respondent: respondent})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)
	return &claim, nil
}

// SubmitRebuttal accepts the respondent's content while the window is open,
// transitions to judging, and synchronously runs the ruling.
func (e *Engine) SubmitRebuttal(ctx context.Context, claimID, respondent, content string) (*Claim, error) {
	var claim Claim
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&claim, "claim_id = ?", claimID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("claim not found")
			}
			return err
		}
		if claim.Status != StatusRebuttal {
			return httpx.Conflict("claim is not awaiting rebuttal")
		}
		if respondent != claim.Respondent {
			return httpx.Auth("only the respondent may submit a rebuttal")
		}
		rebuttal := Rebuttal{
			RebuttalID:  "reb-" + uuid.NewString(),
			ClaimID:     claimID,
			Respondent:  respondent,
			Content:     content,
			SubmittedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rebuttal).Error; err != nil {
			return err
		}
		claim.Status = StatusJudging
		if err := tx.Save(&claim).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "court", &claim.TaskID, &respondent,
			rebuttal.RebuttalID+" submitted", eventlog.RebuttalSubmitted{ClaimID: claimID, TaskID: claim.TaskID})
		return err
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)

	if _, err := e.judgeAndRule(ctx, claim.ClaimID, content); err != nil {
		return nil, err
	}
	return e.GetClaim(claim.ClaimID)
}

// ExpireRebuttalWindow is called by the sweeper for claims whose rebuttal
// deadline has passed without a submission; judging proceeds with an empty
// rebuttal, per §4.5.
func (e *Engine) ExpireRebuttalWindow(ctx context.Context, claimID string) error {
	var claim Claim
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&claim, "claim_id = ?", claimID).Error; err != nil {
			return err
		}
		if claim.Status != StatusRebuttal {
			return nil
		}
		rebuttal := Rebuttal{
			RebuttalID:  "reb-" + uuid.NewString(),
			ClaimID:     claimID,
			Respondent:  claim.Respondent,
			Content:     "",
			SubmittedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rebuttal).Error; err != nil {
			return err
		}
		claim.Status = StatusJudging
		return tx.Save(&claim).Error
	})
	if err != nil {
		return httpx.Fatal(err.Error())
	}
	if claim.Status != StatusJudging {
		return nil
	}
	_, err = e.judgeAndRule(ctx, claimID, "")
	return err
}

// judgeAndRule assembles the bundle, polls the panel, persists the ruling,
// and writes the cross-service effects back to the Task Board and the Bank.
func (e *Engine) judgeAndRule(ctx context.Context, claimID, rebuttalContent string) (*Ruling, error) {
	var claim Claim
	if err := e.db.First(&claim, "claim_id = ?", claimID).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}

	task, err := e.board.GetTask(ctx, claim.TaskID)
	if err != nil {
		return nil, err
	}
	assets, err := e.board.ListAssets(ctx, claim.TaskID)
	if err != nil {
		return nil, err
	}

	bundle := JudgeBundle{
		TaskID:   claim.TaskID,
		TaskSpec: task.Specification,
		Assets:   assets,
		Reason:   claim.Reason,
		Rebuttal: rebuttalContent,
	}
	votes := pollPanel(ctx, e.panel, e.panelSize, e.judgeTimeout, bundle)
	workerPct := aggregateWorkerPct(votes)

	votesJSON, err := json.Marshal(votes)
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	summary := rulingSummary(workerPct, votes)

	ruling := Ruling{
		RulingID:  "rul-" + uuid.NewString(),
		ClaimID:   claimID,
		TaskID:    claim.TaskID,
		WorkerPct: workerPct,
		Summary:   summary,
		VotesJSON: string(votesJSON),
		RuledAt:   time.Now().UTC(),
	}

	var rec *eventlog.Record
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ruling).Error; err != nil {
			return err
		}
		claim.Status = StatusRuled
		claim.RulingID = &ruling.RulingID
		claim.RuledAt = &ruling.RuledAt
		if err := tx.Save(&claim).Error; err != nil {
			return err
		}
		var err error
		rec, err = e.events.Append(tx, "court", &claim.TaskID, nil,
			ruling.RulingID+" delivered", eventlog.RulingDelivered{ClaimID: claimID, TaskID: claim.TaskID, RulingID: ruling.RulingID, WorkerPct: workerPct})
		return err
	})
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	e.events.Publish(rec)

	if err := e.board.RuleTask(ctx, claim.TaskID, ruling.RulingID, workerPct, summary); err != nil {
		e.recordInvariantViolation(claim.TaskID, "board.rule_task failed after ruling persisted: "+err.Error())
		return nil, httpx.Fatal(err.Error())
	}
	if err := e.bank.SplitEscrow(ctx, task.EscrowID, workerPct, task.Worker, task.Poster); err != nil {
		e.recordInvariantViolation(claim.TaskID, "bank.split_escrow failed after ruling persisted: "+err.Error())
		return nil, httpx.Fatal(err.Error())
	}
	return &ruling, nil
}

func (e *Engine) recordInvariantViolation(taskID, detail string) {
	var rec *eventlog.Record
	err := e.db.Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = e.events.Append(tx, "court", &taskID, nil, "invariant violation",
			eventlog.InvariantViolation{Component: "court", Detail: detail})
		return err
	})
	if err == nil {
		e.events.Publish(rec)
	}
}

func rulingSummary(workerPct int, votes []JudgeVote) string {
	if workerPct == 100 {
		for _, v := range votes {
			if !v.Abstained {
				return v.BriefReason
			}
		}
		return "every judge abstained; ambiguity favors the worker"
	}
	for _, v := range votes {
		if !v.Abstained {
			return v.BriefReason
		}
	}
	return "ruling computed from partial panel participation"
}

func (e *Engine) GetClaim(claimID string) (*Claim, error) {
	var claim Claim
	if err := e.db.First(&claim, "claim_id = ?", claimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.NotFound("claim not found")
		}
		return nil, httpx.Fatal(err.Error())
	}
	return &claim, nil
}

func (e *Engine) GetRuling(claimID string) (*Ruling, error) {
	var ruling Ruling
	if err := e.db.First(&ruling, "claim_id = ?", claimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.NotFound("no ruling for this claim")
		}
		return nil, httpx.Fatal(err.Error())
	}
	return &ruling, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
