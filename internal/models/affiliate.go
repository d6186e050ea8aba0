package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AffiliateProfile holds an affiliate user's referral code and running totals
type AffiliateProfile struct {
	ID                  AffiliateProfileID `gorm:"type:uuid;primary_key" json:"id"`
	UserID              UserID             `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	AffiliateCode       string             `gorm:"type:varchar(50);uniqueIndex;not null" json:"affiliate_code"`
	TotalEarnings       decimal.Decimal    `gorm:"type:decimal(20,2);not null;default:0" json:"total_earnings"`
	TotalConversions    int                `gorm:"not null;default:0" json:"total_conversions"`
	OnboardingCompleted bool               `gorm:"default:false" json:"onboarding_completed"`
	ProfileCompleted    bool               `gorm:"default:false" json:"profile_completed"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when none is set
func (p *AffiliateProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID.IsZero() {
		p.ID = NewAffiliateProfileID()
	}
	return nil
}

// AffiliateConversion is the commission earned on one successful transaction.
// AffiliateID references AffiliateProfile.id. TransactionID is unique; it is
// nullable only for rows imported from the legacy store.
type AffiliateConversion struct {
	ID               uuid.UUID          `gorm:"type:uuid;primary_key" json:"id"`
	AffiliateID      AffiliateProfileID `gorm:"type:uuid;index;not null" json:"affiliate_id"`
	TransactionID    *uuid.UUID         `gorm:"type:uuid;uniqueIndex" json:"transaction_id,omitempty"`
	CommissionAmount decimal.Decimal    `gorm:"type:decimal(20,2);not null" json:"commission_amount"`
	CommissionType   CommissionType     `gorm:"type:varchar(20)" json:"commission_type"`
	CommissionRate   decimal.Decimal    `gorm:"type:decimal(20,2);not null;default:0" json:"commission_rate"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when none is set
func (c *AffiliateConversion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
