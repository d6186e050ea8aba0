package database_test

import (
	"testing"

	"github.com/eksporyuk/backend/internal/database"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsRepeatable(t *testing.T) {
	db := testutil.NewTestDB(t)

	require.NoError(t, database.Migrate(db))
	assert.True(t, db.Migrator().HasIndex(&models.UserMembership{}, "idx_user_memberships_active"))
}

func TestUniqueConstraints(t *testing.T) {
	db := testutil.NewTestDB(t)
	f := testutil.NewFixtures(t, db)

	user := f.User(models.RoleMemberFree)
	course := f.Course("Ekspor 101")
	group := f.Group("Komunitas Ekspor")

	t.Run("Course enrollment per user and course", func(t *testing.T) {
		require.NoError(t, db.Create(&models.CourseEnrollment{UserID: user.ID, CourseID: course.ID}).Error)
		assert.Error(t, db.Create(&models.CourseEnrollment{UserID: user.ID, CourseID: course.ID}).Error)
	})

	t.Run("Group member per user and group", func(t *testing.T) {
		require.NoError(t, db.Create(&models.GroupMember{UserID: user.ID, GroupID: group.ID}).Error)
		assert.Error(t, db.Create(&models.GroupMember{UserID: user.ID, GroupID: group.ID}).Error)
	})

	t.Run("Conversion per transaction", func(t *testing.T) {
		_, profile := f.Affiliate()
		txID := uuid.New()
		f.Conversion(profile.ID, &txID, "100000")
		assert.Error(t, db.Create(&models.AffiliateConversion{
			AffiliateID:      profile.ID,
			TransactionID:    &txID,
			CommissionAmount: testutil.Dec("100000"),
		}).Error)
	})

	t.Run("Legacy conversions without transaction may repeat", func(t *testing.T) {
		_, profile := f.Affiliate()
		f.Conversion(profile.ID, nil, "5000")
		f.Conversion(profile.ID, nil, "5000")
	})

	t.Run("User membership per transaction", func(t *testing.T) {
		m := f.Membership("Gold", models.DurationOneMonth, models.CommissionFlat, "100000", "500000", nil, nil)
		txID := uuid.New()
		f.ActiveMembership(user.ID, m.ID, &txID)
		assert.Error(t, db.Create(&models.UserMembership{
			UserID:        user.ID,
			MembershipID:  m.ID,
			TransactionID: &txID,
			Status:        models.UserMembershipActive,
		}).Error)
	})
}
