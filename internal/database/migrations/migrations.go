package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrationsList holds all migrations
var migrationsList []*gormigrate.Migration

// RunMigrations applies the versioned migrations. Tables come from
// AutoMigrate; these add the indexes AutoMigrate cannot express.
func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("could not migrate: %w", err)
	}
	return nil
}
