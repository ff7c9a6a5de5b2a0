package court

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

func signedCourtPost(t *testing.T, url string, agent registeredAgent, fields map[string]any) *http.Response {
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

func newCourtHTTPStack(t *testing.T, panel Panel) (courtURL string, identitySrv *httptest.Server, boardSvc *board.Server, bankSvc *bank.Server) {
	// panel is injected as the judge collaborator so tests never hit a real
	// external process.
	t.Helper()
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
	identitySrv = httptest.NewServer(identitySvc.Router())
	t.Cleanup(identitySrv.Close)
	identityClient := clients.NewIdentityClient(identitySrv.URL)

	bankSvc = bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)
	bankClient := clients.NewBankClient(bankSrv.URL)

	boardSvc = board.NewServer(board.Config{DB: db, Events: store, Obs: obs, Bank: bankClient, Identity: identityClient})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)
	boardClient := clients.NewBoardClient(boardSrv.URL)

	courtSvc := NewServer(Config{
		DB: db, Events: store, Obs: obs,
		Board: boardClient, Bank: bankClient, Identity: identityClient,
		Panel: panel, PanelSize: 1, JudgeTimeout: 30, RebuttalWindow: 3600,
	})
	courtSrv := httptest.NewServer(courtSvc.Router())
	t.Cleanup(courtSrv.Close)

	return courtSrv.URL, identitySrv, boardSvc, bankSvc
}

func TestFileClaimOverHTTPWithSignature(t *testing.T) {
	panel := &stubPanel{votes: map[int]JudgeVote{0: {SpecQualityPct: 60, DeliveryQualityPct: 40, BriefReason: "worker at fault"}}}
	courtURL, identitySrv, boardSvc, bankSvc := newCourtHTTPStack(t, panel)

	poster := registerAgent(t, identitySrv.URL, "Poster")
	worker := registerAgent(t, identitySrv.URL, "Worker")

	_, err := bankSvc.Ledger().OpenAccount(poster.id)
	require.NoError(t, err)
	_, err = bankSvc.Ledger().OpenAccount(worker.id)
	require.NoError(t, err)
	_, err = bankSvc.Ledger().Credit(poster.id, 100, "seed")
	require.NoError(t, err)

	ctx := context.Background()
	task, err := boardSvc.Engine().CreateTask(ctx, poster.id, "widget", "spec", 10, 3600, 3600, 3600)
	require.NoError(t, err)
	bid, err := boardSvc.Engine().SubmitBid(worker.id, task.TaskID, "sure")
	require.NoError(t, err)
	_, err = boardSvc.Engine().AcceptBid(poster.id, task.TaskID, bid.BidID)
	require.NoError(t, err)
	_, err = boardSvc.Engine().Submit(worker.id, task.TaskID)
	require.NoError(t, err)
	_, err = boardSvc.Engine().Dispute(poster.id, task.TaskID, "not as specified")
	require.NoError(t, err)

	fields := map[string]any{
		"task_id":    task.TaskID,
		"claimant":   poster.id,
		"respondent": worker.id,
		"reason":     "not as specified",
	}
	resp := signedCourtPost(t, courtURL+"/claims", poster, fields)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var claimOut struct {
		ClaimID string `json:"claim_id"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&claimOut))
	require.Equal(t, string(StatusRebuttal), claimOut.Status)

	rebuttalFields := map[string]any{
		"respondent": worker.id,
		"content":    "the spec never mentioned this",
	}
	rebResp := signedCourtPost(t, courtURL+"/claims/"+claimOut.ClaimID+"/rebuttal", worker, rebuttalFields)
	defer rebResp.Body.Close()
	require.Equal(t, http.StatusOK, rebResp.StatusCode)

	var ruledOut struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rebResp.Body).Decode(&ruledOut))
	require.Equal(t, string(StatusRuled), ruledOut.Status)

	getResp, err := http.Get(courtURL + "/claims/" + claimOut.ClaimID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var getOut struct {
		Ruling struct {
			WorkerPct int `json:"worker_pct"`
		} `json:"ruling"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&getOut))
	require.Equal(t, 40, getOut.Ruling.WorkerPct)
}

func TestFileClaimOverHTTPRejectsBadSignature(t *testing.T) {
	panel := &stubPanel{votes: map[int]JudgeVote{0: {SpecQualityPct: 50, DeliveryQualityPct: 50}}}
	courtURL, identitySrv, _, _ := newCourtHTTPStack(t, panel)

	poster := registerAgent(t, identitySrv.URL, "Poster")
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	impostor := registeredAgent{id: poster.id, priv: wrongPriv}

	fields := map[string]any{
		"task_id":    "does-not-matter",
		"claimant":   poster.id,
		"respondent": "someone",
		"reason":     "bad faith",
	}
	resp := signedCourtPost(t, courtURL+"/claims", impostor, fields)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitRebuttalOverHTTPRejectsWrongRespondent(t *testing.T) {
	panel := &stubPanel{votes: map[int]JudgeVote{0: {SpecQualityPct: 50, DeliveryQualityPct: 50}}}
	courtURL, identitySrv, boardSvc, bankSvc := newCourtHTTPStack(t, panel)

	poster := registerAgent(t, identitySrv.URL, "Poster")
	worker := registerAgent(t, identitySrv.URL, "Worker")
	impostorAgent := registerAgent(t, identitySrv.URL, "Impostor")

	_, err := bankSvc.Ledger().OpenAccount(poster.id)
	require.NoError(t, err)
	_, err = bankSvc.Ledger().OpenAccount(worker.id)
	require.NoError(t, err)
	_, err = bankSvc.Ledger().Credit(poster.id, 100, "seed")
	require.NoError(t, err)

	ctx := context.Background()
	task, err := boardSvc.Engine().CreateTask(ctx, poster.id, "widget", "spec", 10, 3600, 3600, 3600)
	require.NoError(t, err)
	bid, err := boardSvc.Engine().SubmitBid(worker.id, task.TaskID, "sure")
	require.NoError(t, err)
	_, err = boardSvc.Engine().AcceptBid(poster.id, task.TaskID, bid.BidID)
	require.NoError(t, err)
	_, err = boardSvc.Engine().Submit(worker.id, task.TaskID)
	require.NoError(t, err)
	_, err = boardSvc.Engine().Dispute(poster.id, task.TaskID, "not as specified")
	require.NoError(t, err)

	fields := map[string]any{
		"task_id":    task.TaskID,
		"claimant":   poster.id,
		"respondent": worker.id,
		"reason":     "not as specified",
	}
	resp := signedCourtPost(t, courtURL+"/claims", poster, fields)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var claimOut struct {
		ClaimID string `json:"claim_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&claimOut))

	rebuttalFields := map[string]any{
		"respondent": impostorAgent.id,
		"content":    "not my dispute",
	}
	rebResp := signedCourtPost(t, courtURL+"/claims/"+claimOut.ClaimID+"/rebuttal", impostorAgent, rebuttalFields)
	defer rebResp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, rebResp.StatusCode)
}
