package database

import (
	"fmt"
	"time"

	"github.com/eksporyuk/backend/internal/config"
	"github.com/eksporyuk/backend/internal/database/migrations"
	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// InitDB initializes the database connection with configuration
func InitDB(dbConfig config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(logger.GormLevel(dbConfig.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(dbConfig.URL), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdle)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Models lists every table the service owns
func Models() []interface{} {
	return []interface{}{
		// Identity
		&models.User{},

		// Catalog
		&models.Membership{},
		&models.MembershipCourse{},
		&models.MembershipGroup{},
		&models.Course{},
		&models.Group{},
		&models.Product{},

		// Payments and access
		&models.Transaction{},
		&models.PaymentWebhook{},
		&models.UserMembership{},
		&models.CourseEnrollment{},
		&models.GroupMember{},

		// Affiliate ledger
		&models.AffiliateProfile{},
		&models.AffiliateConversion{},
		&models.Wallet{},
		&models.WalletTransaction{},

		&utils.AuditLog{},
	}
}

// AutoMigrate creates or updates the tables for every model
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// Migrate runs AutoMigrate followed by the versioned index migrations
func Migrate(db *gorm.DB) error {
	if err := AutoMigrate(db); err != nil {
		return err
	}
	return migrations.RunMigrations(db)
}
