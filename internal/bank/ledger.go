package bank

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

// Ledger implements every Central Bank operation. Row-level locking on the
// account/escrow under mutation is taken with
// clause.Locking{Strength: "UPDATE"}, the same pattern
// services/otc-gateway/server.go's transitionInvoice uses to serialize
// concurrent transitions on one row.
type Ledger struct {
	db     *gorm.DB
	events *eventlog.Store
}

func NewLedger(db *gorm.DB, events *eventlog.Store) *Ledger {
	return &Ledger{db: db, events: events}
}

// OpenAccount is idempotent: re-invoking for an already-open account returns
// the existing row unchanged.
func (l *Ledger) OpenAccount(agentID string) (*Account, error) {
	var acct Account
	var rec *eventlog.Record
	err := l.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acct, "account_id = ?", agentID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		acct = Account{AccountID: agentID, Balance: 0, CreatedAt: time.Now().UTC()}
		if err := tx.Create(&acct).Error; err != nil {
			return err
		}
		rec, err = l.events.Append(tx, "bank", nil, &agentID,
			agentID+" account opened", eventlog.AccountCreated{AccountID: agentID})
		return err
	})
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	if rec != nil {
		l.events.Publish(rec)
	}
	return &acct, nil
}

// Credit adds amount to account, or returns the earlier transaction
// unchanged if (account, reference) was already credited, per §4.2's
// idempotence invariant.
func (l *Ledger) Credit(accountID string, amount int64, reference string) (*Transaction, error) {
	if amount <= 0 {
		return nil, httpx.Validation("amount must be positive")
	}
	var existing Transaction
	err := l.db.First(&existing, "account_id = ? AND reference = ? AND kind = ?", accountID, reference, KindCredit).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, httpx.Fatal(err.Error())
	}

	// A bare credit has no dedicated event type in the exhaustive §6
	// enumeration — salary credits emit salary.paid (PaySalary below) and
	// escrow payouts emit escrow.released/escrow.split (below); this path
	// is for off-label credits (e.g. a simulation driver granting a bonus)
	// and only needs the ledger row, not a log entry.
	var tx Transaction
	txErr := l.db.Transaction(func(dbtx *gorm.DB) error {
		var acct Account
		if err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acct, "account_id = ?", accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("account not found")
			}
			return err
		}
		acct.Balance += amount
		if err := dbtx.Save(&acct).Error; err != nil {
			return err
		}
		tx = Transaction{
			TransactionID: "tx-" + uuid.NewString(),
			AccountID:     accountID,
			Kind:          KindCredit,
			Amount:        amount,
			Balance:       acct.Balance,
			Reference:     reference,
			CreatedAt:     time.Now().UTC(),
		}
		if err := dbtx.Create(&tx).Error; err != nil {
			if isUniqueViolation(err) {
				// Lost a race against a concurrent credit with the same
				// (account, reference): re-read and return the winner.
				return dbtx.First(&tx, "account_id = ? AND reference = ? AND kind = ?", accountID, reference, KindCredit).Error
			}
			return err
		}
		return nil
	})
	if appErr, ok := txErr.(*httpx.Error); ok {
		return nil, appErr
	}
	if txErr != nil {
		return nil, httpx.Fatal(txErr.Error())
	}
	return &tx, nil
}

// LockEscrow locks amount from payer's spendable balance for task, failing
// insufficient_funds or escrow_exists per §4.2.
func (l *Ledger) LockEscrow(payer string, amount int64, taskID string) (*Escrow, error) {
	if amount <= 0 {
		return nil, httpx.Validation("amount must be positive")
	}
	var escrow Escrow
	var rec *eventlog.Record
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var existing Escrow
		err := tx.First(&existing, "task_id = ?", taskID).Error
		if err == nil {
			return httpx.Conflict("escrow_exists")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var acct Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acct, "account_id = ?", payer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("payer account not found")
			}
			return err
		}
		if acct.Balance < amount {
			return httpx.NewError(409, httpx.KindValidation, "insufficient_funds")
		}
		acct.Balance -= amount
		if err := tx.Save(&acct).Error; err != nil {
			return err
		}

		escrow = Escrow{
			EscrowID:  "esc-" + uuid.NewString(),
			Payer:     payer,
			Amount:    amount,
			TaskID:    taskID,
			Status:    EscrowLocked,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&escrow).Error; err != nil {
			if isUniqueViolation(err) {
				return httpx.Conflict("escrow_exists")
			}
			return err
		}

		lockTx := Transaction{
			TransactionID: "tx-" + uuid.NewString(),
			AccountID:     payer,
			Kind:          KindEscrowLock,
			Amount:        amount,
			Balance:       acct.Balance,
			Reference:     taskID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := tx.Create(&lockTx).Error; err != nil {
			return err
		}

		var evErr error
		rec, evErr = l.events.Append(tx, "bank", &taskID, &payer,
			payer+" locked "+taskID, eventlog.EscrowLocked{EscrowID: escrow.EscrowID, TaskID: taskID, Payer: payer, Amount: amount})
		return evErr
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return nil, appErr
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	l.events.Publish(rec)
	return &escrow, nil
}

// ReleaseEscrow credits the full amount to recipient and flips the escrow to released.
func (l *Ledger) ReleaseEscrow(escrowID, recipient string) error {
	var rec *eventlog.Record
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var escrow Escrow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&escrow, "escrow_id = ?", escrowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("escrow not found")
			}
			return err
		}
		if escrow.Status != EscrowLocked {
			return httpx.Conflict("escrow is not locked")
		}

		if err := creditWithinTx(tx, recipient, escrow.Amount, "escrow_release:"+escrow.EscrowID); err != nil {
			return err
		}

		now := time.Now().UTC()
		escrow.Status = EscrowReleased
		escrow.ResolvedAt = &now
		if err := tx.Save(&escrow).Error; err != nil {
			return err
		}

		var evErr error
		rec, evErr = l.events.Append(tx, "bank", &escrow.TaskID, &recipient,
			escrowID+" released to "+recipient,
			eventlog.EscrowReleased{EscrowID: escrowID, TaskID: escrow.TaskID, Recipient: recipient, Amount: escrow.Amount})
		return evErr
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return appErr
	}
	if err != nil {
		return httpx.Fatal(err.Error())
	}
	l.events.Publish(rec)
	return nil
}

// SplitEscrow splits the escrow amount between worker and poster by
// worker_pct, skipping zero-amount credits, per §4.2.
func (l *Ledger) SplitEscrow(escrowID string, workerPct int, worker, poster string) error {
	if workerPct < 0 || workerPct > 100 {
		return httpx.Validation("worker_pct must be in [0, 100]")
	}
	var rec *eventlog.Record
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var escrow Escrow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&escrow, "escrow_id = ?", escrowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return httpx.NotFound("escrow not found")
			}
			return err
		}
		if escrow.Status != EscrowLocked {
			return httpx.Conflict("escrow is not locked")
		}

		workerAmount := (escrow.Amount * int64(workerPct)) / 100
		posterAmount := escrow.Amount - workerAmount

		if workerAmount > 0 {
			if err := creditWithinTx(tx, worker, workerAmount, "escrow_split_worker:"+escrow.EscrowID); err != nil {
				return err
			}
		}
		if posterAmount > 0 {
			if err := creditWithinTx(tx, poster, posterAmount, "escrow_split_poster:"+escrow.EscrowID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		escrow.Status = EscrowSplit
		escrow.ResolvedAt = &now
		if err := tx.Save(&escrow).Error; err != nil {
			return err
		}

		var evErr error
		rec, evErr = l.events.Append(tx, "bank", &escrow.TaskID, nil,
			escrowID+" split",
			eventlog.EscrowSplit{EscrowID: escrowID, TaskID: escrow.TaskID, WorkerPct: workerPct, WorkerAmount: workerAmount, PosterAmount: posterAmount})
		return evErr
	})
	if appErr, ok := err.(*httpx.Error); ok {
		return appErr
	}
	if err != nil {
		return httpx.Fatal(err.Error())
	}
	l.events.Publish(rec)
	return nil
}

// creditWithinTx is the shared inner step of release/split: it must run
// inside the caller's transaction so the escrow status flip and the credit
// it pays out commit or roll back as one unit.
func creditWithinTx(tx *gorm.DB, accountID string, amount int64, reference string) error {
	var acct Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acct, "account_id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.NotFound("account not found: " + accountID)
		}
		return err
	}
	acct.Balance += amount
	if err := tx.Save(&acct).Error; err != nil {
		return err
	}
	creditTx := Transaction{
		TransactionID: "tx-" + uuid.NewString(),
		AccountID:     accountID,
		Kind:          KindCredit,
		Amount:        amount,
		Balance:       acct.Balance,
		Reference:     reference,
		CreatedAt:     time.Now().UTC(),
	}
	return tx.Create(&creditTx).Error
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

// PaySalary credits every registered account with the same reference
// salary_round_<round_id>; re-invocation with the same round_id is a no-op
// because Credit's (account, reference) idempotence covers each account.
func (l *Ledger) PaySalary(roundID string, amount int64) (int, error) {
	if amount <= 0 {
		return 0, httpx.Validation("amount must be positive")
	}
	var accounts []Account
	if err := l.db.Find(&accounts).Error; err != nil {
		return 0, httpx.Fatal(err.Error())
	}
	reference := "salary_round_" + roundID
	credited := 0
	for _, acct := range accounts {
		var already Transaction
		err := l.db.First(&already, "account_id = ? AND reference = ? AND kind = ?", acct.AccountID, reference, KindCredit).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return credited, httpx.Fatal(err.Error())
		}
		if _, err := l.Credit(acct.AccountID, amount, reference); err != nil {
			return credited, err
		}
		credited++
	}

	rec, err := l.events.Append(l.db, "bank", nil, nil,
		"salary round "+roundID+" paid", eventlog.SalaryPaid{RoundID: roundID, Amount: amount, Count: credited})
	if err != nil {
		return credited, httpx.Fatal(err.Error())
	}
	l.events.Publish(rec)
	return credited, nil
}

// GetAccount returns the account row, or not_found.
func (l *Ledger) GetAccount(accountID string) (*Account, error) {
	var acct Account
	if err := l.db.First(&acct, "account_id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.NotFound("account not found")
		}
		return nil, httpx.Fatal(err.Error())
	}
	return &acct, nil
}

// ListTransactions returns an account's transaction history, newest first.
func (l *Ledger) ListTransactions(accountID string) ([]Transaction, error) {
	var txs []Transaction
	if err := l.db.Where("account_id = ?", accountID).Order("created_at DESC").Find(&txs).Error; err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	return txs, nil
}
