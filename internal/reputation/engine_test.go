package reputation

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"testing"

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
// servers and returns a reputation Engine pointed at the board over HTTP,
// mirroring how reputation only ever reads board state across the network.
func newTestFixture(t *testing.T) (*Engine, *board.Engine, *bank.Ledger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, bank.AutoMigrate(db))
	require.NoError(t, board.AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())

	obs := httpx.NewObservability(httpx.ObservabilityConfig{ServiceName: "reputation-test"}, log.New(io.Discard, "", 0))

	bankSvc := bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)
	bankClient := clients.NewBankClient(bankSrv.URL)

	boardSvc := board.NewServer(board.Config{DB: db, Events: store, Obs: obs, Bank: bankClient})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)
	boardClient := clients.NewBoardClient(boardSrv.URL)

	engine := NewEngine(db, store, boardClient)
	return engine, boardSvc.Engine(), bankSvc.Ledger()
}

// approvedTask drives a fresh task through to the approved state and
// returns its id, mirroring the happy path already covered in the board
// package's own tests.
func approvedTask(t *testing.T, boardEngine *board.Engine, ledger *bank.Ledger, poster, worker string) string {
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

	_, err = boardEngine.Approve(ctx, poster, task.TaskID)
	require.NoError(t, err)

	return task.TaskID
}

func TestFeedbackSealedUntilSecondSubmission(t *testing.T) {
	engine, boardEngine, ledger := newTestFixture(t)
	taskID := approvedTask(t, boardEngine, ledger, "alice", "bob")
	ctx := context.Background()

	fb, err := engine.SubmitFeedback(ctx, taskID, "alice", RatingSatisfied, nil)
	require.NoError(t, err)
	require.False(t, fb.Visible)
	require.Equal(t, CategoryDeliveryQuality, fb.Category)
	require.Equal(t, "bob", fb.ToAgent)

	views, err := engine.GetFeedbackForTask(taskID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.False(t, views[0].Visible)
	require.Nil(t, views[0].Rating)

	scores, err := engine.AgentScores("bob")
	require.NoError(t, err)
	require.Equal(t, 100, scores[CategoryDeliveryQuality])
}

func TestFeedbackRevealsBothOnSecondSubmission(t *testing.T) {
	engine, boardEngine, ledger := newTestFixture(t)
	taskID := approvedTask(t, boardEngine, ledger, "alice", "bob")
	ctx := context.Background()

	_, err := engine.SubmitFeedback(ctx, taskID, "alice", RatingSatisfied, nil)
	require.NoError(t, err)

	comment := "great spec"
	bobFb, err := engine.SubmitFeedback(ctx, taskID, "bob", RatingExtremelySatisfied, &comment)
	require.NoError(t, err)
	require.True(t, bobFb.Visible)
	require.Equal(t, CategorySpecQuality, bobFb.Category)
	require.Equal(t, "alice", bobFb.ToAgent)

	views, err := engine.GetFeedbackForTask(taskID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		require.True(t, v.Visible)
		require.NotNil(t, v.Rating)
	}

	bobScores, err := engine.AgentScores("bob")
	require.NoError(t, err)
	require.Equal(t, 50, bobScores[CategoryDeliveryQuality])

	aliceScores, err := engine.AgentScores("alice")
	require.NoError(t, err)
	require.Equal(t, 100, aliceScores[CategorySpecQuality])

	counts, err := engine.FeedbackCounts("bob")
	require.NoError(t, err)
	require.Equal(t, 1, counts[CategoryDeliveryQuality])
}

func TestFeedbackRejectsNonPartyAgent(t *testing.T) {
	engine, boardEngine, ledger := newTestFixture(t)
	taskID := approvedTask(t, boardEngine, ledger, "alice", "bob")

	_, err := engine.SubmitFeedback(context.Background(), taskID, "mallory", RatingSatisfied, nil)
	require.Error(t, err)
}

func TestFeedbackRejectedBeforeTaskIsPaid(t *testing.T) {
	engine, boardEngine, ledger := newTestFixture(t)
	ctx := context.Background()

	_, err := ledger.OpenAccount("carol")
	require.NoError(t, err)
	_, err = ledger.OpenAccount("dave")
	require.NoError(t, err)
	_, err = ledger.Credit("carol", 100, "seed-carol")
	require.NoError(t, err)

	task, err := boardEngine.CreateTask(ctx, "carol", "build a gadget", "spec", 10, 3600, 3600, 3600)
	require.NoError(t, err)

	_, err = engine.SubmitFeedback(ctx, task.TaskID, "carol", RatingSatisfied, nil)
	require.Error(t, err)
}

func TestFeedbackDuplicateDirectionRejected(t *testing.T) {
	engine, boardEngine, ledger := newTestFixture(t)
	taskID := approvedTask(t, boardEngine, ledger, "alice", "bob")
	ctx := context.Background()

	_, err := engine.SubmitFeedback(ctx, taskID, "alice", RatingSatisfied, nil)
	require.NoError(t, err)

	_, err = engine.SubmitFeedback(ctx, taskID, "alice", RatingDissatisfied, nil)
	require.Error(t, err)
}

// TestScoreAveragesAcrossMultipleTasks mirrors the dissatisfied-spec scenario:
// a worker's low spec_quality rating of the poster on a second task pulls
// the poster's aggregate down once that task's feedback is revealed (and
// the poster's merely satisfied rating lowers the worker's delivery_quality
// aggregate the same way), since scoring is a mean
// over every revealed rating in the category, not just the latest one.
func TestScoreAveragesAcrossMultipleTasks(t *testing.T) {
	engine, boardEngine, ledger := newTestFixture(t)
	ctx := context.Background()

	task1 := approvedTask(t, boardEngine, ledger, "alice", "bob")
	_, err := engine.SubmitFeedback(ctx, task1, "alice", RatingExtremelySatisfied, nil)
	require.NoError(t, err)
	_, err = engine.SubmitFeedback(ctx, task1, "bob", RatingExtremelySatisfied, nil)
	require.NoError(t, err)

	_, err = ledger.Credit("alice", 100, "seed-alice-2")
	require.NoError(t, err)
	task2, err := boardEngine.CreateTask(ctx, "alice", "second widget", "vague spec", 10, 3600, 3600, 3600)
	require.NoError(t, err)
	bid, err := boardEngine.SubmitBid("bob", task2.TaskID, "sure")
	require.NoError(t, err)
	_, err = boardEngine.AcceptBid("alice", task2.TaskID, bid.BidID)
	require.NoError(t, err)
	_, err = boardEngine.Submit("bob", task2.TaskID)
	require.NoError(t, err)
	_, err = boardEngine.Approve(ctx, "alice", task2.TaskID)
	require.NoError(t, err)

	_, err = engine.SubmitFeedback(ctx, task2.TaskID, "alice", RatingSatisfied, nil)
	require.NoError(t, err)
	_, err = engine.SubmitFeedback(ctx, task2.TaskID, "bob", RatingDissatisfied, nil)
	require.NoError(t, err)

	aliceScores, err := engine.AgentScores("alice")
	require.NoError(t, err)
	require.Equal(t, 50, aliceScores[CategorySpecQuality])

	bobScores, err := engine.AgentScores("bob")
	require.NoError(t, err)
	require.Equal(t, 75, bobScores[CategoryDeliveryQuality])
}
