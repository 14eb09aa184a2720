package userstore

import "time"

// User is the durable account row. Active doubles as the block flag: a
// lockout or a pending activation both leave it false, and every credential
// check consults it first.
type User struct {
	ID           string `gorm:"primaryKey;size:36"`
	Username     string `gorm:"size:64;uniqueIndex"`
	Email        string `gorm:"size:255;uniqueIndex"`
	Phone        string `gorm:"size:32"`
	FirstName    string `gorm:"size:64"`
	LastName     string `gorm:"size:64"`
	PasswordHash string `gorm:"size:255"`
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (User) TableName() string { return "users" }

// LoginAttempt is one row in the append-only attempt ledger. FailCount is the
// running consecutive-failure total as of this attempt; the latest row is
// authoritative.
type LoginAttempt struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:36;index"`
	FailCount int
	Success   bool
	Origin    string `gorm:"size:45"`
	CreatedAt time.Time
}

func (LoginAttempt) TableName() string { return "login_attempts" }

// SecurityAnswer stores one configured question/answer pair. QuestionText is
// denormalized so challenges can render the prompt without a pool lookup.
type SecurityAnswer struct {
	ID           string `gorm:"primaryKey;size:36"`
	UserID       string `gorm:"size:36;index"`
	QuestionID   string `gorm:"size:36"`
	QuestionText string `gorm:"size:255"`
	AnswerHash   string `gorm:"size:255"`
	CreatedAt    time.Time
}

func (SecurityAnswer) TableName() string { return "security_answers" }

// USBDevice is a registered hardware token. Inactive devices stay on record
// but cannot satisfy a challenge.
type USBDevice struct {
	ID         string `gorm:"primaryKey;size:36"`
	UserID     string `gorm:"size:36;index"`
	Identifier string `gorm:"size:128"`
	Name       string `gorm:"size:64"`
	Active     bool
	CreatedAt  time.Time
}

func (USBDevice) TableName() string { return "usb_devices" }
