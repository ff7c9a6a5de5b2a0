package eventlog

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Record is the durable row for one event, grounded on
// services/escrow-gateway/storage.go's events table (sequence primary
// key, JSON-text payload).
type Record struct {
	Sequence   int64 `gorm:"primaryKey;autoIncrement"`
	Source     string
	Type       string
	OccurredAt time.Time
	TaskID     *string `gorm:"index"`
	AgentID    *string `gorm:"index"`
	Summary    string
	Payload    string
}

func (Record) TableName() string { return "events" }

// Cursor tracks a named consumer's catch-up position, grounded on
// services/escrow-gateway/storage.go's event_cursors table.
type Cursor struct {
	Name      string `gorm:"primaryKey"`
	Sequence  int64
	UpdatedAt time.Time
}

func (Cursor) TableName() string { return "event_cursors" }

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return err
	}
	return db.AutoMigrate(&Cursor{})
}

// Store appends events and serves catch-up reads against a shared `events`
// table. Every service opens a Store against the same database file so all
// five write into one monotonic sequence.
type Store struct {
	db     *gorm.DB
	broker *Broker
}

func NewStore(db *gorm.DB, broker *Broker) *Store {
	return &Store{db: db, broker: broker}
}

// Append writes one event row within tx — the same transaction as the
// state change it describes, per §4.6's "writers append synchronously
// within the same atomic unit" rule. It does not notify live subscribers;
// the caller passes the returned record to Publish once tx has committed.
func (s *Store) Append(tx *gorm.DB, source string, taskID, agentID *string, summary string, payload Payload) (*Record, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Source:     source,
		Type:       payload.EventType(),
		OccurredAt: time.Now().UTC(),
		TaskID:     taskID,
		AgentID:    agentID,
		Summary:    summary,
		Payload:    string(encoded),
	}
	if err := tx.Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// Publish notifies live subscribers of a record already committed. Callers
// invoke this after their transaction commits, not inside it, so a
// subscriber never observes an event that a concurrent rollback later undid.
func (s *Store) Publish(rec *Record) {
	if s.broker != nil {
		s.broker.Publish(*rec)
	}
}

// After returns up to limit events with sequence > cursor, ascending.
func (s *Store) After(cursor int64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []Record
	err := s.db.Where("sequence > ?", cursor).Order("sequence ASC").Limit(limit).Find(&records).Error
	return records, err
}

// LastSequence returns the current maximum sequence, or 0 if the log is empty.
func (s *Store) LastSequence() (int64, error) {
	var rec Record
	err := s.db.Order("sequence DESC").First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Sequence, nil
}

// SaveCursor upserts a named consumer's position.
func (s *Store) SaveCursor(name string, sequence int64) error {
	return s.db.Save(&Cursor{Name: name, Sequence: sequence, UpdatedAt: time.Now().UTC()}).Error
}

func (s *Store) LoadCursor(name string) (int64, error) {
	var c Cursor
	err := s.db.First(&c, "name = ?", name).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Sequence, nil
}
