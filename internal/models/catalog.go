package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MembershipDuration is the billing period of a membership plan
type MembershipDuration string

const (
	DurationOneMonth     MembershipDuration = "ONE_MONTH"
	DurationThreeMonths  MembershipDuration = "THREE_MONTHS"
	DurationSixMonths    MembershipDuration = "SIX_MONTHS"
	DurationTwelveMonths MembershipDuration = "TWELVE_MONTHS"
	DurationLifetime     MembershipDuration = "LIFETIME"
)

// Months returns the length of the period in months, 0 for LIFETIME and
// false for an unknown value.
func (d MembershipDuration) Months() (int, bool) {
	switch d {
	case DurationOneMonth:
		return 1, true
	case DurationThreeMonths:
		return 3, true
	case DurationSixMonths:
		return 6, true
	case DurationTwelveMonths:
		return 12, true
	case DurationLifetime:
		return 0, true
	}
	return 0, false
}

// EndDate returns when a period starting at start ends; nil means it never does.
func (d MembershipDuration) EndDate(start time.Time) *time.Time {
	months, ok := d.Months()
	if !ok || months == 0 {
		return nil
	}
	end := start.AddDate(0, months, 0)
	return &end
}

// Membership is a purchasable plan. Its course and group links are the
// source of truth for what a member gets access to.
type Membership struct {
	Base
	Name                    string             `gorm:"type:varchar(255);not null" json:"name"`
	Slug                    string             `gorm:"type:varchar(255);index" json:"slug"`
	Price                   decimal.Decimal    `gorm:"type:decimal(20,2);not null;default:0" json:"price"`
	Duration                MembershipDuration `gorm:"type:varchar(20);not null" json:"duration"`
	CommissionType          CommissionType     `gorm:"type:varchar(20);not null;default:'PERCENTAGE'" json:"commission_type"`
	AffiliateCommissionRate decimal.Decimal    `gorm:"type:decimal(20,2);not null;default:0" json:"affiliate_commission_rate"`
	IsActive                bool               `gorm:"default:true" json:"is_active"`
	Courses                 []Course           `gorm:"many2many:membership_courses;" json:"courses,omitempty"`
	Groups                  []Group            `gorm:"many2many:membership_groups;" json:"groups,omitempty"`
}

// MembershipCourse links a membership to a course it grants
type MembershipCourse struct {
	MembershipID uuid.UUID `gorm:"type:uuid;primaryKey" json:"membership_id"`
	CourseID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"course_id"`
}

// MembershipGroup links a membership to a community group it grants
type MembershipGroup struct {
	MembershipID uuid.UUID `gorm:"type:uuid;primaryKey" json:"membership_id"`
	GroupID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"group_id"`
}

// Course represents a course in the LMS
type Course struct {
	Base
	Title string `gorm:"type:varchar(255);not null" json:"title"`
	Slug  string `gorm:"type:varchar(255);index" json:"slug"`
}

// Group represents a community group
type Group struct {
	Base
	Name string `gorm:"type:varchar(255);not null" json:"name"`
	Slug string `gorm:"type:varchar(255);index" json:"slug"`
}

// ProductType distinguishes standalone products
type ProductType string

const (
	ProductDigital ProductType = "DIGITAL"
	ProductEvent   ProductType = "EVENT"
)

// Product is a non-membership item such as an ebook or a webinar ticket.
// Selling one pays affiliate commission but never grants membership access.
type Product struct {
	Base
	Name                    string          `gorm:"type:varchar(255);not null" json:"name"`
	Slug                    string          `gorm:"type:varchar(255);index" json:"slug"`
	ProductType             ProductType     `gorm:"type:varchar(20);not null;default:'DIGITAL'" json:"product_type"`
	Price                   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"price"`
	CommissionType          CommissionType  `gorm:"type:varchar(20);not null;default:'PERCENTAGE'" json:"commission_type"`
	AffiliateCommissionRate decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"affiliate_commission_rate"`
	IsActive                bool            `gorm:"default:true" json:"is_active"`
}
