package data

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TurnRecord is the audit row written for every chat turn.
type TurnRecord struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	RequestID    string    `gorm:"size:36;uniqueIndex"`
	Model        string    `gorm:"size:128"`
	History      int       // client turns forwarded upstream
	Searched     bool      `gorm:"index"`
	SearchQuery  string    `gorm:"type:text"`
	FinalState   string    `gorm:"size:16"`
	Status       int       // HTTP status returned to the client
	ErrorMessage string    `gorm:"type:text"`
	ContentBytes int64     // bytes of assistant text relayed
	Frames       int       // outgoing frames written
	DroppedLines int       // upstream lines that failed to parse
	DurationMs   int64
	CreatedAt    time.Time `gorm:"index"`
}

// TableName implements gorm's tabler interface.
func (TurnRecord) TableName() string {
	return "chat_turns"
}

// TurnLog persists turn audit rows.
type TurnLog struct {
	db *gorm.DB
}

// NewTurnLog migrates the audit table and returns the log.
func NewTurnLog(db *gorm.DB) (*TurnLog, error) {
	if err := db.AutoMigrate(&TurnRecord{}); err != nil {
		return nil, fmt.Errorf("migrate chat_turns: %w", err)
	}
	return &TurnLog{db: db}, nil
}

// Record persists rec. A nil log discards the record.
func (l *TurnLog) Record(rec TurnRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return l.db.Create(&rec).Error
}
