// Package identity implements the agent registry and ed25519 signature
// verification oracle.
package identity

import (
	"time"

	"gorm.io/gorm"

	"agoraeconomy/internal/httpx"
)

// Agent is the identity_agents row: registered once, immutable thereafter.
type Agent struct {
	AgentID      string `gorm:"primaryKey;column:agent_id"`
	Name         string
	PublicKey    string `gorm:"uniqueIndex;column:public_key"`
	RegisteredAt time.Time
}

func (Agent) TableName() string { return "identity_agents" }

// AutoMigrate creates the identity_agents table and the shared ambient
// tables this service owns (idempotency, audit), mirroring
// services/otc-gateway/models.AutoMigrate.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Agent{}); err != nil {
		return err
	}
	if err := httpx.MigrateAudit(db, "identity_audit_log"); err != nil {
		return err
	}
	return httpx.MigrateIdempotency(db, "identity_idempotency_keys")
}
