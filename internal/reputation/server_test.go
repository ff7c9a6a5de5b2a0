package reputation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
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
	"agoraeconomy/internal/identity"
	"agoraeconomy/internal/sigutil"
)

type registeredAgent struct {
	id   string
	priv ed25519.PrivateKey
}

func registerAgent(t *testing.T, baseURL, name string) registeredAgent {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	raw, err := json.Marshal(map[string]string{"name": name, "public_key": sigutil.EncodeKey(pub)})
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/agents", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		AgentID string `json:"agent_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return registeredAgent{id: out.AgentID, priv: priv}
}

func signedFeedbackPost(t *testing.T, url string, agent registeredAgent, fields map[string]any) *http.Response {
	t.Helper()
	canonical, err := sigutil.CanonicalBody(fields)
	require.NoError(t, err)
	sig := sigutil.Sign(agent.priv, canonical)
	fields["signature"] = base64.StdEncoding.EncodeToString(sig)

	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Id", agent.id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSubmitFeedbackOverHTTPWithSignature(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, identity.AutoMigrate(db))
	require.NoError(t, bank.AutoMigrate(db))
	require.NoError(t, board.AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())
	obs := httpx.NewObservability(httpx.ObservabilityConfig{ServiceName: "test"}, log.New(io.Discard, "", 0))

	identitySvc := identity.NewServer(identity.Config{DB: db, Events: store, Obs: obs})
	identitySrv := httptest.NewServer(identitySvc.Router())
	t.Cleanup(identitySrv.Close)
	identityClient := clients.NewIdentityClient(identitySrv.URL)

	bankSvc := bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)
	bankClient := clients.NewBankClient(bankSrv.URL)

	boardSvc := board.NewServer(board.Config{DB: db, Events: store, Obs: obs, Bank: bankClient, Identity: identityClient})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)
	boardClient := clients.NewBoardClient(boardSrv.URL)

	repSvc := NewServer(Config{DB: db, Events: store, Obs: obs, Board: boardClient, Identity: identityClient})
	repSrv := httptest.NewServer(repSvc.Router())
	t.Cleanup(repSrv.Close)

	alice := registerAgent(t, identitySrv.URL, "Alice")
	bob := registerAgent(t, identitySrv.URL, "Bob")

	_, err = bankSvc.Ledger().OpenAccount(alice.id)
	require.NoError(t, err)
	_, err = bankSvc.Ledger().OpenAccount(bob.id)
	require.NoError(t, err)
	_, err = bankSvc.Ledger().Credit(alice.id, 100, "seed")
	require.NoError(t, err)

	ctx := context.Background()
	task, err := boardSvc.Engine().CreateTask(ctx, alice.id, "widget", "spec", 10, 3600, 3600, 3600)
	require.NoError(t, err)
	bid, err := boardSvc.Engine().SubmitBid(bob.id, task.TaskID, "sure")
	require.NoError(t, err)
	_, err = boardSvc.Engine().AcceptBid(alice.id, task.TaskID, bid.BidID)
	require.NoError(t, err)
	_, err = boardSvc.Engine().Submit(bob.id, task.TaskID)
	require.NoError(t, err)
	_, err = boardSvc.Engine().Approve(ctx, alice.id, task.TaskID)
	require.NoError(t, err)

	fields := map[string]any{
		"task_id":    task.TaskID,
		"from_agent": alice.id,
		"rating":     string(RatingSatisfied),
	}
	resp := signedFeedbackPost(t, repSrv.URL+"/feedback", alice, fields)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var fbOut struct {
		Visible bool `json:"visible"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fbOut))
	require.False(t, fbOut.Visible)

	scoresResp, err := http.Get(repSrv.URL + "/agents/" + bob.id + "/scores")
	require.NoError(t, err)
	defer scoresResp.Body.Close()
	require.Equal(t, http.StatusOK, scoresResp.StatusCode)
}

func TestSubmitFeedbackOverHTTPRejectsBadSignature(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, identity.AutoMigrate(db))
	require.NoError(t, bank.AutoMigrate(db))
	require.NoError(t, board.AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())
	obs := httpx.NewObservability(httpx.ObservabilityConfig{ServiceName: "test"}, log.New(io.Discard, "", 0))

	identitySvc := identity.NewServer(identity.Config{DB: db, Events: store, Obs: obs})
	identitySrv := httptest.NewServer(identitySvc.Router())
	t.Cleanup(identitySrv.Close)
	identityClient := clients.NewIdentityClient(identitySrv.URL)

	bankSvc := bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)
	bankClient := clients.NewBankClient(bankSrv.URL)

	boardSvc := board.NewServer(board.Config{DB: db, Events: store, Obs: obs, Bank: bankClient, Identity: identityClient})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)
	boardClient := clients.NewBoardClient(boardSrv.URL)

	repSvc := NewServer(Config{DB: db, Events: store, Obs: obs, Board: boardClient, Identity: identityClient})
	repSrv := httptest.NewServer(repSvc.Router())
	t.Cleanup(repSrv.Close)

	alice := registerAgent(t, identitySrv.URL, "Alice")
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	impostor := registeredAgent{id: alice.id, priv: wrongPriv}

	fields := map[string]any{
		"task_id":    "does-not-matter",
		"from_agent": alice.id,
		"rating":     string(RatingSatisfied),
	}
	resp := signedFeedbackPost(t, repSrv.URL+"/feedback", impostor, fields)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
