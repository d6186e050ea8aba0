package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionType identifies what a payment bought
type TransactionType string

const (
	TransactionMembership TransactionType = "MEMBERSHIP"
	TransactionProduct    TransactionType = "PRODUCT"
	TransactionEvent      TransactionType = "EVENT"
	TransactionCommission TransactionType = "COMMISSION"
)

// TransactionStatus is a payment's position in its lifecycle
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "PENDING"
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionFailed  TransactionStatus = "FAILED"
	TransactionExpired TransactionStatus = "EXPIRED"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid transaction status transition")

// CanTransitionTo reports whether a transaction in status s may move to next.
// PENDING is the only state with exits; a repeated status is a no-op and allowed.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s == next {
		return true
	}
	if s != TransactionPending {
		return false
	}
	switch next {
	case TransactionSuccess, TransactionFailed, TransactionExpired:
		return true
	}
	return false
}

// Transaction represents a payment made through the gateway
type Transaction struct {
	ID         uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	ExternalID string            `gorm:"type:varchar(255);uniqueIndex;not null" json:"external_id"`
	UserID     UserID            `gorm:"type:uuid;index;not null" json:"user_id"`
	Type       TransactionType   `gorm:"type:varchar(20);not null;index" json:"type"`
	Status     TransactionStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Amount     decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`

	// AffiliateID holds the referring affiliate's User.id, never a profile id.
	AffiliateID  *UserID        `gorm:"type:uuid;index" json:"affiliate_id,omitempty"`
	MembershipID *uuid.UUID     `gorm:"type:uuid;index" json:"membership_id,omitempty"`
	ProductID    *uuid.UUID     `gorm:"type:uuid;index" json:"product_id,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	PaidAt       *time.Time     `json:"paid_at,omitempty"`
	FulfilledAt  *time.Time     `json:"fulfilled_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when none is set
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// EffectiveMembershipID returns MembershipID, falling back to the
// membershipId recorded in metadata by older checkout flows.
func (t *Transaction) EffectiveMembershipID() *uuid.UUID {
	if t.MembershipID != nil {
		return t.MembershipID
	}
	if len(t.Metadata) == 0 {
		return nil
	}
	var meta struct {
		MembershipID string `json:"membershipId"`
	}
	if err := json.Unmarshal(t.Metadata, &meta); err != nil || meta.MembershipID == "" {
		return nil
	}
	id, err := uuid.Parse(meta.MembershipID)
	if err != nil {
		return nil
	}
	return &id
}
