package models

import (
	"time"

	"gorm.io/gorm"
)

// UserRole is the primary role of a user
type UserRole string

const (
	RoleMemberFree    UserRole = "MEMBER_FREE"
	RoleMemberPremium UserRole = "MEMBER_PREMIUM"
	RoleAffiliate     UserRole = "AFFILIATE"
	RoleAdmin         UserRole = "ADMIN"
)

// User represents a user in the system
type User struct {
	ID        UserID    `gorm:"type:uuid;primary_key" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Role      UserRole  `gorm:"type:varchar(20);not null;default:'MEMBER_FREE'" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a fresh id when none is set
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID.IsZero() {
		u.ID = NewUserID()
	}
	if u.Role == "" {
		u.Role = RoleMemberFree
	}
	return nil
}
