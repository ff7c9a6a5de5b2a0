package court

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"agoraeconomy/internal/bank"
	"agoraeconomy/internal/board"
	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
)

// newTestFixture wires real Bank and Task Board services behind httptest
// servers and a Court Engine pointed at both over HTTP, with an injected
// stub judge panel standing in for the out-of-process collaborator.
func newTestFixture(t *testing.T, panel Panel, panelSize int) (*Engine, *board.Engine, *bank.Ledger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, bank.AutoMigrate(db))
	require.NoError(t, board.AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())

	obs := httpx.NewObservability(httpx.ObservabilityConfig{ServiceName: "court-test"}, log.New(io.Discard, "", 0))

	bankSvc := bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)
	bankClient := clients.NewBankClient(bankSrv.URL)

	boardSvc := board.NewServer(board.Config{DB: db, Events: store, Obs: obs, Bank: bankClient})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)
	boardClient := clients.NewBoardClient(boardSrv.URL)

	engine := NewEngine(db, store, boardClient, bankClient, panel, panelSize, 30*time.Second, time.Hour)
	return engine, boardSvc.Engine(), bankSvc.Ledger()
}

// disputedTask drives a fresh task through to the disputed state and
// returns its id, mirroring the happy path already exercised in the board
// package's own tests up through Submit, then diverging into a dispute.
func disputedTask(t *testing.T, boardEngine *board.Engine, ledger *bank.Ledger, poster, worker string) string {
	t.Helper()
	ctx := context.Background()
	_, err := ledger.OpenAccount(poster)
	require.NoError(t, err)
	_, err = ledger.OpenAccount(worker)
	require.NoError(t, err)
	_, err = ledger.Credit(poster, 100, "seed-"+poster)
	require.NoError(t, err)

	task, err := boardEngine.CreateTask(ctx, poster, "build a widget", "make it blue", 10, 3600, 3600, 3600)
	require.NoError(t, err)

	bid, err := boardEngine.SubmitBid(worker, task.TaskID, "I can do this")
	require.NoError(t, err)

	_, err = boardEngine.AcceptBid(poster, task.TaskID, bid.BidID)
	require.NoError(t, err)

	_, err = boardEngine.Submit(worker, task.TaskID)
	require.NoError(t, err)

	_, err = boardEngine.Dispute(poster, task.TaskID, "delivered the wrong color")
	require.NoError(t, err)

	return task.TaskID
}

// TestFileClaimAndRuleWorkerAtFault mirrors seed scenario 4: the panel
// returns worker_pct = 40 on an escrow of 10, so the worker should end up
// with 4 and the poster with 6.
func TestFileClaimAndRuleWorkerAtFault(t *testing.T) {
	panel := &stubPanel{votes: map[int]JudgeVote{
		0: {SpecQualityPct: 60, DeliveryQualityPct: 40, BriefReason: "worker missed the color spec"},
		1: {SpecQualityPct: 60, DeliveryQualityPct: 40, BriefReason: "worker missed the color spec"},
		2: {SpecQualityPct: 60, DeliveryQualityPct: 40, BriefReason: "worker missed the color spec"},
	}}
	engine, boardEngine, ledger := newTestFixture(t, panel, 3)
	taskID := disputedTask(t, boardEngine, ledger, "alice", "bob")
	ctx := context.Background()

	claim, err := engine.FileClaim(ctx, taskID, "alice", "bob", "delivered the wrong color")
	require.NoError(t, err)
	require.Equal(t, StatusRebuttal, claim.Status)

	ruled, err := engine.SubmitRebuttal(ctx, claim.ClaimID, "bob", "the spec never named a color")
	require.NoError(t, err)
	require.Equal(t, StatusRuled, ruled.Status)
	require.NotNil(t, ruled.RulingID)

	ruling, err := engine.GetRuling(claim.ClaimID)
	require.NoError(t, err)
	require.Equal(t, 40, ruling.WorkerPct)
	require.NotEmpty(t, ruling.Summary)

	task, err := boardEngine.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, board.StatusRuled, task.Status)
	require.NotNil(t, task.WorkerPct)
	require.Equal(t, 40, *task.WorkerPct)

	bobAccount, err := ledger.GetAccount("bob")
	require.NoError(t, err)
	require.Equal(t, int64(4), bobAccount.Balance)

	aliceAccount, err := ledger.GetAccount("alice")
	require.NoError(t, err)
	require.Equal(t, int64(100-10+6), aliceAccount.Balance)
}

// TestFileClaimAndRuleVagueSpecFavorsWorker mirrors seed scenario 5: the
// panel returns worker_pct = 95 on an escrow of 10, splitting 9 to the
// worker and 1 to the poster.
func TestFileClaimAndRuleVagueSpecFavorsWorker(t *testing.T) {
	panel := &stubPanel{votes: map[int]JudgeVote{
		0: {SpecQualityPct: 5, DeliveryQualityPct: 95, BriefReason: "spec was too vague to fault the worker"},
		1: {SpecQualityPct: 5, DeliveryQualityPct: 95, BriefReason: "spec was too vague to fault the worker"},
		2: {SpecQualityPct: 5, DeliveryQualityPct: 95, BriefReason: "spec was too vague to fault the worker"},
	}}
	engine, boardEngine, ledger := newTestFixture(t, panel, 3)
	taskID := disputedTask(t, boardEngine, ledger, "carol", "dave")
	ctx := context.Background()

	claim, err := engine.FileClaim(ctx, taskID, "carol", "dave", "worker ignored half the requirements")
	require.NoError(t, err)

	_, err = engine.SubmitRebuttal(ctx, claim.ClaimID, "dave", "the requirements were contradictory")
	require.NoError(t, err)

	ruling, err := engine.GetRuling(claim.ClaimID)
	require.NoError(t, err)
	require.Equal(t, 95, ruling.WorkerPct)

	daveAccount, err := ledger.GetAccount("dave")
	require.NoError(t, err)
	require.Equal(t, int64(9), daveAccount.Balance)

	carolAccount, err := ledger.GetAccount("carol")
	require.NoError(t, err)
	require.Equal(t, int64(100-10+1), carolAccount.Balance)
}

// TestRebuttalWindowExpiryTriggersJudging exercises the sweeper's leg of the
// state machine: no rebuttal is ever submitted, so ExpireRebuttalWindow must
// carry the claim into judging and on to a ruling on its own.
func TestRebuttalWindowExpiryTriggersJudging(t *testing.T) {
	panel := &stubPanel{votes: map[int]JudgeVote{
		0: {SpecQualityPct: 50, DeliveryQualityPct: 50, BriefReason: "even split, no rebuttal on record"},
	}}
	engine, boardEngine, ledger := newTestFixture(t, panel, 1)
	taskID := disputedTask(t, boardEngine, ledger, "erin", "frank")
	ctx := context.Background()

	claim, err := engine.FileClaim(ctx, taskID, "erin", "frank", "missed the deadline")
	require.NoError(t, err)

	require.NoError(t, engine.ExpireRebuttalWindow(ctx, claim.ClaimID))

	final, err := engine.GetClaim(claim.ClaimID)
	require.NoError(t, err)
	require.Equal(t, StatusRuled, final.Status)

	ruling, err := engine.GetRuling(claim.ClaimID)
	require.NoError(t, err)
	require.Equal(t, 50, ruling.WorkerPct)

	// A second sweep over an already-ruled claim must be a no-op, not a
	// second ruling attempt.
	require.NoError(t, engine.ExpireRebuttalWindow(ctx, claim.ClaimID))
}

func TestSweeperExpiresPastDeadlineClaims(t *testing.T) {
	panel := &stubPanel{votes: map[int]JudgeVote{
		0: {SpecQualityPct: 50, DeliveryQualityPct: 50, BriefReason: "swept"},
	}}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, bank.AutoMigrate(db))
	require.NoError(t, board.AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())
	obs := httpx.NewObservability(httpx.ObservabilityConfig{ServiceName: "court-sweep-test"}, log.New(io.Discard, "", 0))

	bankSvc := bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)
	bankClient := clients.NewBankClient(bankSrv.URL)

	boardSvc := board.NewServer(board.Config{DB: db, Events: store, Obs: obs, Bank: bankClient})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)
	boardClient := clients.NewBoardClient(boardSrv.URL)

	// A rebuttal window of zero duration means the claim is already past
	// its deadline the instant it is filed.
	engine := NewEngine(db, store, boardClient, bankClient, panel, 1, 30*time.Second, 0)
	ctx := context.Background()

	taskID := disputedTask(t, boardSvc.Engine(), bankSvc.Ledger(), "gina", "hank")
	claim, err := engine.FileClaim(ctx, taskID, "gina", "hank", "poor quality")
	require.NoError(t, err)

	sweeper := NewSweeper(engine, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sweeper.sweep(ctx)

	final, err := engine.GetClaim(claim.ClaimID)
	require.NoError(t, err)
	require.Equal(t, StatusRuled, final.Status)
}
