package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/sigutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, eventlog.Migrate(db))
	store := eventlog.NewStore(db, eventlog.NewBroker())
	return NewService(db, store)
}

func TestRegisterAndLookup(t *testing.T) {
	svc := newTestService(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key := sigutil.EncodeKey(pub)

	agent, err := svc.Register("Alice", key)
	require.NoError(t, err)
	require.Contains(t, agent.AgentID, "a-")

	looked, err := svc.Lookup(agent.AgentID)
	require.NoError(t, err)
	require.Equal(t, "Alice", looked.Name)
	require.Equal(t, key, looked.PublicKey)
}

func TestRegisterDuplicateKeyRejected(t *testing.T) {
	svc := newTestService(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key := sigutil.EncodeKey(pub)

	_, err = svc.Register("Alice", key)
	require.NoError(t, err)

	_, err = svc.Register("Eve", key)
	require.ErrorContains(t, err, "duplicate_key")
}

func TestVerifyRoundTrip(t *testing.T) {
	svc := newTestService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	agent, err := svc.Register("Alice", sigutil.EncodeKey(pub))
	require.NoError(t, err)

	message := []byte("create-task:t-123:reward:10")
	sig := sigutil.Sign(priv, message)

	valid, err := svc.Verify(agent.AgentID, base64.StdEncoding.EncodeToString(message), base64.StdEncoding.EncodeToString(sig))
	require.NoError(t, err)
	require.True(t, valid)

	tamperedSig := make([]byte, len(sig))
	copy(tamperedSig, sig)
	tamperedSig[0] ^= 0xFF
	invalid, err := svc.Verify(agent.AgentID, base64.StdEncoding.EncodeToString(message), base64.StdEncoding.EncodeToString(tamperedSig))
	require.NoError(t, err)
	require.False(t, invalid)
}

func TestLookupUnknownAgent(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Lookup("a-does-not-exist")
	require.Error(t, err)
}
