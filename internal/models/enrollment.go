package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CourseEnrollment grants a user access to a course. One row per (user, course).
type CourseEnrollment struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID    UserID    `gorm:"type:uuid;not null;uniqueIndex:idx_course_enrollments_user_course" json:"user_id"`
	CourseID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_course_enrollments_user_course" json:"course_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *CourseEnrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// GroupMember grants a user access to a community group. One row per (user, group).
type GroupMember struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID    UserID    `gorm:"type:uuid;not null;uniqueIndex:idx_group_members_user_group" json:"user_id"`
	GroupID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_group_members_user_group" json:"group_id"`
	Role      string    `gorm:"type:varchar(20);not null;default:'MEMBER'" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *GroupMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
