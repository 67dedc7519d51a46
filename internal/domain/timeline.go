package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Task timeline event types
const (
	EventTypeTaskStarted   = "TASK_STARTED"
	EventTypeTaskInstalled = "TASK_INSTALLED"
	EventTypeTaskSkipped   = "TASK_SKIPPED"
	EventTypeTaskFailed    = "TASK_FAILED"
	EventTypeCheck         = "HOST_CHECK"
)

type EventStatus string

const (
	EventStatusPending EventStatus = "pending"
	EventStatusSuccess EventStatus = "success"
	EventStatusFailed  EventStatus = "failed"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan JSONB: invalid type")
	}
	return json.Unmarshal(raw, j)
}

// TimelineEvent is the persisted journal of task outcomes per host.
type TimelineEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	RunID   string      `gorm:"size:36;index" json:"run_id,omitempty"`
	Host    string      `gorm:"size:255;index" json:"host"`
	Task    string      `gorm:"size:100;index" json:"task"`
	Type    string      `gorm:"size:100;not null;index" json:"type"`
	Status  EventStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Message string      `gorm:"type:text" json:"message"`
	Meta    JSONB       `gorm:"type:jsonb" json:"meta"`
}
