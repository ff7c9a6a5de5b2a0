package bank

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// SalaryScheduler triggers PaySalary at a configured cadence. round_id is
// derived from the wall-clock epoch divided by the period, so a crash and
// restart within the same period re-issues the same round_id and Credit's
// idempotence prevents double payment, per §5's "Salary scheduler" note.
// The loop shape is grounded on
// services/otc-gateway/recon/scheduler.go's ticker-driven Start(ctx).
type SalaryScheduler struct {
	ledger       *Ledger
	amount       int64
	periodSecs   int
	logger       *slog.Logger
}

func NewSalaryScheduler(ledger *Ledger, amount int64, periodSeconds int, logger *slog.Logger) *SalaryScheduler {
	if periodSeconds <= 0 {
		periodSeconds = 86400
	}
	return &SalaryScheduler{ledger: ledger, amount: amount, periodSecs: periodSeconds, logger: logger}
}

// Start runs the periodic salary loop until ctx is cancelled. Only the
// caller that wins the advisory-lock CAS on bank_locks for a given round_id
// actually pays it, so running this scheduler on more than one process
// still pays each round exactly once.
func (s *SalaryScheduler) Start(ctx context.Context) {
	if err := s.ensureLockRow(); err != nil {
		s.logger.Error("salary scheduler: failed to initialize lock row", "error", err.Error())
		return
	}
	ticker := time.NewTicker(time.Duration(s.periodSecs) * time.Second)
	defer ticker.Stop()
	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *SalaryScheduler) tick() {
	roundID := s.currentRoundID()
	claimed, err := s.claimRound(roundID)
	if err != nil {
		s.logger.Error("salary scheduler: claim failed", "round_id", roundID, "error", err.Error())
		return
	}
	if !claimed {
		return
	}
	count, err := s.ledger.PaySalary(roundID, s.amount)
	if err != nil {
		s.logger.Error("salary scheduler: pay failed", "round_id", roundID, "error", err.Error())
		return
	}
	s.logger.Info("salary round paid", "round_id", roundID, "accounts_credited", count)
}

func (s *SalaryScheduler) currentRoundID() string {
	epoch := time.Now().UTC().Unix() / int64(s.periodSecs)
	return strconv.FormatInt(epoch, 10)
}

func (s *SalaryScheduler) ensureLockRow() error {
	return s.ledger.db.FirstOrCreate(&SalaryLock{ID: 1}, SalaryLock{ID: 1}).Error
}

// claimRound performs the advisory-lock CAS: only the caller whose UPDATE
// actually changes last_round_id proceeds to pay.
func (s *SalaryScheduler) claimRound(roundID string) (bool, error) {
	result := s.ledger.db.Model(&SalaryLock{}).
		Where("id = ? AND last_round_id != ?", 1, roundID).
		Updates(map[string]any{"last_round_id": roundID, "last_paid_at": time.Now().UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
