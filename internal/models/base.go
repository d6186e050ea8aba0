package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for catalog tables
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}
	return nil
}

// CommissionType selects how an affiliate commission rate is read
type CommissionType string

const (
	// CommissionFlat means the rate is a rupiah amount per sale
	CommissionFlat CommissionType = "FLAT"
	// CommissionPercentage means the rate is a percentage of the sale amount
	CommissionPercentage CommissionType = "PERCENTAGE"
)
