package board

import (
	"bytes"
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
	"agoraeconomy/internal/clients"
	"agoraeconomy/internal/config"
	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
	"agoraeconomy/internal/identity"
	"agoraeconomy/internal/sigutil"
)

func defaultCfg() *config.Config {
	c := config.Default()
	return &c
}

// signedPost signs fields with priv, attaches the signature, and POSTs the
// canonical-plus-signature body, asserting the server's VerifySigned path
// behaves the same way as the direct sigutil round-trip tests already cover.
func signedPost(t *testing.T, client *http.Client, url, agentID string, priv ed25519.PrivateKey, fields map[string]any) *http.Response {
	t.Helper()
	canonical, err := sigutil.CanonicalBody(fields)
	require.NoError(t, err)
	sig := sigutil.Sign(priv, canonical)
	fields["signature"] = base64.StdEncoding.EncodeToString(sig)

	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Id", agentID)
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateTaskOverHTTPWithSignature(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, identity.AutoMigrate(db))
	require.NoError(t, bank.AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())
	obs := httpx.NewObservability(httpx.ObservabilityConfig{ServiceName: "test"}, log.New(io.Discard, "", 0))

	identitySvc := identity.NewServer(identity.Config{DB: db, Events: store, Obs: obs})
	identitySrv := httptest.NewServer(identitySvc.Router())
	t.Cleanup(identitySrv.Close)

	bankSvc := bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)

	identityClient := clients.NewIdentityClient(identitySrv.URL)
	bankClient := clients.NewBankClient(bankSrv.URL)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	agentRaw, err := json.Marshal(map[string]string{"name": "Alice", "public_key": sigutil.EncodeKey(pub)})
	require.NoError(t, err)
	resp, err := http.Post(identitySrv.URL+"/agents", "application/json", bytes.NewReader(agentRaw))
	require.NoError(t, err)
	var agentOut struct {
		AgentID string `json:"agent_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agentOut))
	resp.Body.Close()

	_, err = bankSvc.Ledger().OpenAccount(agentOut.AgentID)
	require.NoError(t, err)
	_, err = bankSvc.Ledger().Credit(agentOut.AgentID, 100, "seed")
	require.NoError(t, err)

	boardSvc := NewServer(Config{
		DB:       db,
		Events:   store,
		Obs:      obs,
		Bank:     bankClient,
		Identity: identityClient,
		App:      defaultCfg(),
	})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)

	fields := map[string]any{
		"poster":        agentOut.AgentID,
		"title":         "build a widget",
		"specification": "make it blue",
		"reward":        10,
	}
	resp = signedPost(t, http.DefaultClient, boardSrv.URL+"/tasks", agentOut.AgentID, priv, fields)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var taskOut struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&taskOut))
	require.Equal(t, "open", taskOut.Status)

	acct, err := bankSvc.Ledger().GetAccount(agentOut.AgentID)
	require.NoError(t, err)
	require.Equal(t, int64(90), acct.Balance)
}

func TestCreateTaskOverHTTPRejectsBadSignature(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, identity.AutoMigrate(db))
	require.NoError(t, bank.AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())
	obs := httpx.NewObservability(httpx.ObservabilityConfig{ServiceName: "test"}, log.New(io.Discard, "", 0))

	identitySvc := identity.NewServer(identity.Config{DB: db, Events: store, Obs: obs})
	identitySrv := httptest.NewServer(identitySvc.Router())
	t.Cleanup(identitySrv.Close)

	bankSvc := bank.NewServer(bank.Config{DB: db, Events: store, Obs: obs})
	bankSrv := httptest.NewServer(bankSvc.Router())
	t.Cleanup(bankSrv.Close)

	identityClient := clients.NewIdentityClient(identitySrv.URL)
	bankClient := clients.NewBankClient(bankSrv.URL)

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	agentRaw, err := json.Marshal(map[string]string{"name": "Alice", "public_key": sigutil.EncodeKey(pub)})
	require.NoError(t, err)
	resp, err := http.Post(identitySrv.URL+"/agents", "application/json", bytes.NewReader(agentRaw))
	require.NoError(t, err)
	var agentOut struct {
		AgentID string `json:"agent_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agentOut))
	resp.Body.Close()

	boardSvc := NewServer(Config{
		DB:       db,
		Events:   store,
		Obs:      obs,
		Bank:     bankClient,
		Identity: identityClient,
		App:      defaultCfg(),
	})
	boardSrv := httptest.NewServer(boardSvc.Router())
	t.Cleanup(boardSrv.Close)

	fields := map[string]any{
		"poster":        agentOut.AgentID,
		"title":         "build a widget",
		"specification": "make it blue",
		"reward":        10,
	}
	resp = signedPost(t, http.DefaultClient, boardSrv.URL+"/tasks", agentOut.AgentID, wrongPriv, fields)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
