package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentWebhook records a gateway callback. EventID is unique so a
// redelivered callback is recognised and acknowledged without side effects.
type PaymentWebhook struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	EventID     string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"event_id"`
	Provider    string         `gorm:"type:varchar(50);not null" json:"provider"`
	ExternalID  string         `gorm:"type:varchar(255);index" json:"external_id"`
	Status      string         `gorm:"type:varchar(50)" json:"status"`
	RawData     datatypes.JSON `json:"raw_data,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (w *PaymentWebhook) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
