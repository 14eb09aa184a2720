package session

import "time"

// Session is one authenticated presence. At most one row per user is active;
// starting a new session closes the previous one rather than failing.
type Session struct {
	ID         string `gorm:"primaryKey;size:36"`
	UserID     string `gorm:"size:36;index"`
	Origin     string `gorm:"size:45"`
	Active     bool   `gorm:"index"`
	CreatedAt  time.Time
	LastSeenAt time.Time
	ClosedAt   *time.Time
}

func (Session) TableName() string { return "sessions" }
