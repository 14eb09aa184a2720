package audit

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Record is the persisted form of an Event. UserID is a pointer so events
// without an attributable account store NULL rather than an empty string.
type Record struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	Action    string    `gorm:"size:64;index"`
	UserID    *string   `gorm:"size:36;index"`
	SessionID string    `gorm:"size:36"`
	IP        string    `gorm:"size:45"`
	Success   bool
	Reason   string `gorm:"size:255"`
	Metadata string `gorm:"type:text"`
}

func (Record) TableName() string { return "audit_records" }

// DBSink persists audit events to a relational table. Insert failures are
// swallowed: auditing must never fail the operation that produced the event.
type DBSink struct {
	db *gorm.DB
}

func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.db == nil {
		return
	}

	rec := Record{
		CreatedAt: event.Timestamp,
		Action:    event.Action,
		SessionID: event.SessionID,
		IP:        event.IP,
		Success:   event.Success,
		Reason:    event.Reason,
	}
	if event.UserID != "" {
		uid := event.UserID
		rec.UserID = &uid
	}
	if len(event.Metadata) > 0 {
		if data, err := json.Marshal(event.Metadata); err == nil {
			rec.Metadata = string(data)
		}
	}

	_ = s.db.WithContext(ctx).Create(&rec).Error
}
