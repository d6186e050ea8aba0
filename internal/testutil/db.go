// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/eksporyuk/backend/internal/database"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory sqlite database with every model
// migrated. The single connection means code under test must use the
// transaction handle it is given rather than the outer *gorm.DB.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// Dec parses a decimal literal, panicking on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Fixtures creates rows with sensible defaults
type Fixtures struct {
	t  *testing.T
	db *gorm.DB
}

// NewFixtures returns a fixture builder bound to db
func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	return &Fixtures{t: t, db: db}
}

// User creates a user with the given role
func (f *Fixtures) User(role models.UserRole) *models.User {
	f.t.Helper()
	id := models.NewUserID()
	u := &models.User{ID: id, Email: id.String() + "@example.com", Name: "Test User", Role: role}
	require.NoError(f.t, f.db.Create(u).Error)
	return u
}

// Course creates a course
func (f *Fixtures) Course(title string) *models.Course {
	f.t.Helper()
	c := &models.Course{Title: title}
	require.NoError(f.t, f.db.Create(c).Error)
	return c
}

// Group creates a community group
func (f *Fixtures) Group(name string) *models.Group {
	f.t.Helper()
	g := &models.Group{Name: name}
	require.NoError(f.t, f.db.Create(g).Error)
	return g
}

// Membership creates a plan and links it to the given courses and groups
func (f *Fixtures) Membership(name string, duration models.MembershipDuration, ctype models.CommissionType, rate, price string, courses []*models.Course, groups []*models.Group) *models.Membership {
	f.t.Helper()
	m := &models.Membership{
		Name:                    name,
		Price:                   Dec(price),
		Duration:                duration,
		CommissionType:          ctype,
		AffiliateCommissionRate: Dec(rate),
		IsActive:                true,
	}
	require.NoError(f.t, f.db.Create(m).Error)
	for _, c := range courses {
		require.NoError(f.t, f.db.Create(&models.MembershipCourse{MembershipID: m.ID, CourseID: c.ID}).Error)
	}
	for _, g := range groups {
		require.NoError(f.t, f.db.Create(&models.MembershipGroup{MembershipID: m.ID, GroupID: g.ID}).Error)
	}
	return m
}

// Product creates a standalone product
func (f *Fixtures) Product(name string, ptype models.ProductType, ctype models.CommissionType, rate, price string) *models.Product {
	f.t.Helper()
	p := &models.Product{
		Name:                    name,
		ProductType:             ptype,
		Price:                   Dec(price),
		CommissionType:          ctype,
		AffiliateCommissionRate: Dec(rate),
		IsActive:                true,
	}
	require.NoError(f.t, f.db.Create(p).Error)
	return p
}

// Affiliate creates an AFFILIATE user with a profile
func (f *Fixtures) Affiliate() (*models.User, *models.AffiliateProfile) {
	f.t.Helper()
	u := f.User(models.RoleAffiliate)
	p := &models.AffiliateProfile{UserID: u.ID, AffiliateCode: "AFF-" + u.ID.String()[:8]}
	require.NoError(f.t, f.db.Create(p).Error)
	return u, p
}

// Wallet creates a wallet with the given balance and earnings
func (f *Fixtures) Wallet(userID models.UserID, balance, earnings string) *models.Wallet {
	f.t.Helper()
	w := &models.Wallet{UserID: userID, Balance: Dec(balance), TotalEarnings: Dec(earnings)}
	require.NoError(f.t, f.db.Create(w).Error)
	return w
}

// Transaction creates a transaction; mutate adjusts it before insert
func (f *Fixtures) Transaction(userID models.UserID, ttype models.TransactionType, status models.TransactionStatus, amount string, mutate func(*models.Transaction)) *models.Transaction {
	f.t.Helper()
	tx := &models.Transaction{
		ExternalID: "inv-" + uuid.NewString(),
		UserID:     userID,
		Type:       ttype,
		Status:     status,
		Amount:     Dec(amount),
	}
	if status == models.TransactionSuccess {
		paid := time.Now().UTC()
		tx.PaidAt = &paid
	}
	if mutate != nil {
		mutate(tx)
	}
	require.NoError(f.t, f.db.Create(tx).Error)
	return tx
}

// Conversion creates a conversion row directly, bypassing fulfillment
func (f *Fixtures) Conversion(affiliateID models.AffiliateProfileID, transactionID *uuid.UUID, amount string) *models.AffiliateConversion {
	f.t.Helper()
	c := &models.AffiliateConversion{
		AffiliateID:      affiliateID,
		TransactionID:    transactionID,
		CommissionAmount: Dec(amount),
		CommissionType:   models.CommissionFlat,
		CommissionRate:   Dec(amount),
	}
	require.NoError(f.t, f.db.Create(c).Error)
	return c
}

// ActiveMembership creates an ACTIVE user membership without going through fulfillment
func (f *Fixtures) ActiveMembership(userID models.UserID, membershipID uuid.UUID, transactionID *uuid.UUID) *models.UserMembership {
	f.t.Helper()
	um := &models.UserMembership{
		UserID:        userID,
		MembershipID:  membershipID,
		TransactionID: transactionID,
		Status:        models.UserMembershipActive,
		StartDate:     time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(f.t, f.db.Create(um).Error)
	return um
}
