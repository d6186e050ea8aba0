package ledger_test

import (
	"context"
	"testing"

	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/eksporyuk/backend/internal/testutil"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newService(db *gorm.DB) *ledger.Service {
	log := logger.Discard()
	return ledger.NewService(db, wallet.NewWalletService(db, log), utils.NewAuditLogger(db), log, testutil.Dec("1"))
}

func count(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func TestReconcileWallet(t *testing.T) {
	db := testutil.NewTestDB(t)
	f := testutil.NewFixtures(t, db)
	svc := newService(db)
	ctx := context.Background()

	t.Run("User without affiliate profile expects nothing", func(t *testing.T) {
		user := f.User(models.RoleMemberFree)

		report, err := svc.ReconcileWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, report.HasAffiliateProfile)
		assert.False(t, report.HasWallet)
		assert.True(t, report.ExpectedEarnings.IsZero())
		assert.False(t, report.Drift)
	})

	t.Run("Unknown user fails loudly", func(t *testing.T) {
		_, err := svc.ReconcileWallet(ctx, models.NewUserID())
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})

	t.Run("Sums conversions by profile id", func(t *testing.T) {
		user, profile := f.Affiliate()
		f.Wallet(user.ID, "150000", "150000")
		tx1, tx2 := uuid.New(), uuid.New()
		f.Conversion(profile.ID, &tx1, "100000")
		f.Conversion(profile.ID, &tx2, "50000")

		report, err := svc.ReconcileWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, report.ExpectedEarnings.Equal(testutil.Dec("150000")))
		assert.Equal(t, int64(2), report.ConversionCount)
		assert.True(t, report.Delta.IsZero())
		assert.False(t, report.Drift)
	})

	t.Run("Conversions keyed by user id are not counted", func(t *testing.T) {
		user, _ := f.Affiliate()
		f.Wallet(user.ID, "0", "0")
		txID := uuid.New()
		f.Conversion(models.AffiliateProfileID(user.ID), &txID, "75000")

		report, err := svc.ReconcileWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, report.ExpectedEarnings.IsZero())
		assert.False(t, report.Drift)
	})

	t.Run("Drift inside tolerance is not flagged", func(t *testing.T) {
		user, profile := f.Affiliate()
		f.Wallet(user.ID, "100000.50", "100000.50")
		txID := uuid.New()
		f.Conversion(profile.ID, &txID, "100000")

		report, err := svc.ReconcileWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, report.Delta.Equal(testutil.Dec("-0.5")))
		assert.False(t, report.Drift)

		log := logger.Discard()
		strict := ledger.NewService(db, wallet.NewWalletService(db, log), utils.NewAuditLogger(db), log, testutil.Dec("0"))
		assert.True(t, strict.Tolerance().IsZero())
		report, err = strict.ReconcileWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, report.Drift)
	})

	t.Run("Negative tolerance falls back to the default", func(t *testing.T) {
		log := logger.Discard()
		svc := ledger.NewService(db, wallet.NewWalletService(db, log), utils.NewAuditLogger(db), log, testutil.Dec("-5"))
		assert.True(t, svc.Tolerance().Equal(ledger.DefaultTolerance))
	})
}

func TestApplyCorrection(t *testing.T) {
	db := testutil.NewTestDB(t)
	f := testutil.NewFixtures(t, db)
	svc := newService(db)
	ctx := context.Background()

	admin := f.User(models.RoleAdmin)
	user, profile := f.Affiliate()
	f.Wallet(user.ID, "60000", "100000")
	tx1, tx2 := uuid.New(), uuid.New()
	f.Conversion(profile.ID, &tx1, "100000")
	f.Conversion(profile.ID, &tx2, "50000")

	t.Run("Success - Correction is audited", func(t *testing.T) {
		res, err := svc.ApplyCorrection(ctx, user.ID, ledger.Correction{ActorID: &admin.ID, Reason: "missing webhook credit"})
		require.NoError(t, err)

		assert.True(t, res.Before.Delta.Equal(testutil.Dec("50000")))
		assert.True(t, res.After.Delta.IsZero())
		assert.True(t, res.After.ActualWalletEarnings.Equal(testutil.Dec("150000")))
		assert.True(t, res.After.Balance.Equal(testutil.Dec("110000")))
		assert.Equal(t, models.WalletTxReconciliationAdjustment, res.Adjustment.Type)

		assert.Equal(t, int64(1), count(t, db, &models.WalletTransaction{}, "type = ?", models.WalletTxReconciliationAdjustment))
		assert.Equal(t, int64(1), count(t, db, &utils.AuditLog{}, "event_type = ?", utils.AuditEventWalletCorrection))

		var reloaded models.AffiliateProfile
		require.NoError(t, db.First(&reloaded, "id = ?", profile.ID).Error)
		assert.True(t, reloaded.TotalEarnings.Equal(testutil.Dec("150000")))
		assert.Equal(t, 2, reloaded.TotalConversions)
	})

	t.Run("Failure - Second correction finds no drift", func(t *testing.T) {
		_, err := svc.ApplyCorrection(ctx, user.ID, ledger.Correction{ActorID: &admin.ID})
		assert.ErrorIs(t, err, ledger.ErrNoDrift)
		assert.Equal(t, int64(1), count(t, db, &models.WalletTransaction{}, "type = ?", models.WalletTxReconciliationAdjustment))
	})

	t.Run("Success - Overcredited wallet is corrected downwards", func(t *testing.T) {
		other, otherProfile := f.Affiliate()
		f.Wallet(other.ID, "90000", "90000")
		txID := uuid.New()
		f.Conversion(otherProfile.ID, &txID, "40000")

		res, err := svc.ApplyCorrection(ctx, other.ID, ledger.Correction{ActorID: &admin.ID})
		require.NoError(t, err)
		assert.True(t, res.Before.Delta.Equal(testutil.Dec("-50000")))
		assert.True(t, res.After.ActualWalletEarnings.Equal(testutil.Dec("40000")))
		assert.True(t, res.After.Balance.Equal(testutil.Dec("40000")))
	})

	t.Run("Success - Missing wallet is created by the correction", func(t *testing.T) {
		other, otherProfile := f.Affiliate()
		txID := uuid.New()
		f.Conversion(otherProfile.ID, &txID, "25000")

		res, err := svc.ApplyCorrection(ctx, other.ID, ledger.Correction{})
		require.NoError(t, err)
		assert.True(t, res.Before.ActualWalletEarnings.IsZero())
		assert.True(t, res.After.HasWallet)
		assert.True(t, res.After.ActualWalletEarnings.Equal(testutil.Dec("25000")))
	})
}

func TestWalletReports(t *testing.T) {
	db := testutil.NewTestDB(t)
	f := testutil.NewFixtures(t, db)
	svc := newService(db)
	ctx := context.Background()

	ok, okProfile := f.Affiliate()
	f.Wallet(ok.ID, "10000", "10000")
	tx1 := uuid.New()
	f.Conversion(okProfile.ID, &tx1, "10000")

	short, shortProfile := f.Affiliate()
	f.Wallet(short.ID, "0", "0")
	tx2 := uuid.New()
	f.Conversion(shortProfile.ID, &tx2, "30000")

	walletOnly := f.User(models.RoleMemberFree)
	f.Wallet(walletOnly.ID, "5000", "5000")

	f.User(models.RoleMemberFree)

	reports, err := svc.WalletReports(ctx, nil)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	byUser := make(map[models.UserID]ledger.WalletReport)
	for _, r := range reports {
		byUser[r.UserID] = r
	}

	assert.False(t, byUser[ok.ID].Drift)
	assert.True(t, byUser[short.ID].Drift)
	assert.True(t, byUser[short.ID].Delta.Equal(testutil.Dec("30000")))
	assert.False(t, byUser[walletOnly.ID].HasAffiliateProfile)
	assert.True(t, byUser[walletOnly.ID].Delta.Equal(testutil.Dec("-5000")))

	single, err := svc.WalletReports(ctx, []models.UserID{short.ID})
	require.NoError(t, err)
	require.Len(t, single, 1)

	direct, err := svc.ReconcileWallet(ctx, short.ID)
	require.NoError(t, err)
	assert.True(t, direct.Delta.Equal(single[0].Delta))
}
