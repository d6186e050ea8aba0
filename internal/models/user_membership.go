package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserMembershipStatus is the state of a purchased membership
type UserMembershipStatus string

const (
	UserMembershipActive  UserMembershipStatus = "ACTIVE"
	UserMembershipExpired UserMembershipStatus = "EXPIRED"
)

// UserMembership records a user's purchase of a membership plan. The
// transaction id is unique so a payment activates at most one row.
type UserMembership struct {
	ID            uuid.UUID            `gorm:"type:uuid;primary_key" json:"id"`
	UserID        UserID               `gorm:"type:uuid;index:idx_user_memberships_user_membership;not null" json:"user_id"`
	MembershipID  uuid.UUID            `gorm:"type:uuid;index:idx_user_memberships_user_membership;not null" json:"membership_id"`
	Membership    Membership           `gorm:"foreignKey:MembershipID" json:"membership,omitempty"`
	TransactionID *uuid.UUID           `gorm:"type:uuid;uniqueIndex" json:"transaction_id,omitempty"`
	Status        UserMembershipStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	StartDate     time.Time            `gorm:"not null" json:"start_date"`
	EndDate       *time.Time           `json:"end_date,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when none is set
func (m *UserMembership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// IsCurrent reports whether the membership is ACTIVE and not past its end date
func (m *UserMembership) IsCurrent(now time.Time) bool {
	if m.Status != UserMembershipActive {
		return false
	}
	return m.EndDate == nil || m.EndDate.After(now)
}
