package identity

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"agoraeconomy/internal/eventlog"
	"agoraeconomy/internal/httpx"
	"agoraeconomy/internal/sigutil"
)

// ErrDuplicateKey is returned when a public key is already registered to
// another agent, per §4.1's "re-registration of the same public key fails
// with duplicate_key."
var ErrDuplicateKey = errors.New("duplicate_key")

// Service wraps the store and event log the way native/reputation.Engine
// wraps a Ledger: a thin orchestration layer that validates, writes, and emits.
type Service struct {
	db     *gorm.DB
	events *eventlog.Store
}

func NewService(db *gorm.DB, events *eventlog.Store) *Service {
	return &Service{db: db, events: events}
}

func (s *Service) Register(name, publicKey string) (*Agent, error) {
	if name == "" {
		return nil, httpx.Validation("name is required")
	}
	if _, err := sigutil.ParsePublicKey(publicKey); err != nil {
		return nil, httpx.Validation(err.Error())
	}

	agent := Agent{
		AgentID:      "a-" + uuid.NewString(),
		Name:         name,
		PublicKey:    publicKey,
		RegisteredAt: time.Now().UTC(),
	}

	var rec *eventlog.Record
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&agent).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateKey
			}
			return err
		}
		var err error
		rec, err = s.events.Append(tx, "identity", nil, &agent.AgentID,
			agent.AgentID+" registered as "+agent.Name,
			eventlog.AgentRegistered{AgentID: agent.AgentID, Name: agent.Name, PublicKey: agent.PublicKey})
		return err
	})
	if errors.Is(err, ErrDuplicateKey) {
		return nil, httpx.Conflict("duplicate_key")
	}
	if err != nil {
		return nil, httpx.Fatal(err.Error())
	}
	s.events.Publish(rec)
	return &agent, nil
}

func (s *Service) Lookup(agentID string) (*Agent, error) {
	var agent Agent
	if err := s.db.First(&agent, "agent_id = ?", agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httpx.NotFound("agent not found")
		}
		return nil, httpx.Fatal(err.Error())
	}
	return &agent, nil
}

// Verify checks a detached signature over message under agentID's
// registered public key. message and signature arrive base64-encoded over
// the wire; the verification itself is a pure function of (public key,
// canonical bytes, signature), cached only within this call.
func (s *Service) Verify(agentID, messageBase64, signatureBase64 string) (bool, error) {
	agent, err := s.Lookup(agentID)
	if err != nil {
		return false, err
	}
	pub, err := sigutil.ParsePublicKey(agent.PublicKey)
	if err != nil {
		return false, httpx.Fatal(err.Error())
	}
	message, err := base64.StdEncoding.DecodeString(messageBase64)
	if err != nil {
		return false, httpx.Validation("message must be base64")
	}
	sig, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false, httpx.Validation("signature must be base64")
	}
	return sigutil.Verify(pub, message, sig), nil
}

func isUniqueViolation(err error) bool {
	// glebarez/sqlite surfaces SQLite's constraint errors as plain strings
	// rather than a typed sentinel, so match on the driver's message.
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}
