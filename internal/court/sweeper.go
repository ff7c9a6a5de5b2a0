package court

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drives the rebuttal-window expiry leg of §4.5's judging trigger:
// "judging is triggered by either rebuttal submission or rebuttal-window
// expiry." The submission leg is handled inline by SubmitRebuttal; this
// sweeper covers the timeout leg, mirroring the Task Board's own periodic
// timeout sweeper.
type Sweeper struct {
	engine *Engine
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

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	var claims []Claim
	if err := s.engine.db.Where("status = ? AND rebuttal_deadline <= ?", StatusRebuttal, now).Find(&claims).Error; err != nil {
		s.logger.Error("sweeper: query rebuttal-expired failed", "error", err.Error())
		return
	}
	for _, c := range claims {
		if err := s.engine.ExpireRebuttalWindow(ctx, c.ClaimID); err != nil {
			s.logger.Error("sweeper: expire rebuttal window failed", "claim_id", c.ClaimID, "error", err.Error())
		}
	}
}
