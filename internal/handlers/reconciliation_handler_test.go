package handlers

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/testutil"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const reconPath = "/api/v1/admin/reconciliation"

func TestReconciliationWallets(t *testing.T) {
	h := newHarness(t)
	f := h.fixture

	affiliate, profile := f.Affiliate()
	f.Wallet(affiliate.ID, "300000", "300000")
	f.Conversion(profile.ID, nil, "300000")
	f.Conversion(profile.ID, nil, "200000")
	walletPath := reconPath + "/wallets/" + affiliate.ID.String()

	t.Run("Success - drift is reported", func(t *testing.T) {
		w := h.do(http.MethodGet, walletPath, nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, true, body["drift"])
		delta, _ := body["delta"].(string)
		assert.True(t, testutil.Dec("200000").Equal(testutil.Dec(delta)), delta)
	})

	t.Run("Error - invalid and unknown users", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, reconPath+"/wallets/not-a-uuid", nil, nil).Code)
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, reconPath+"/wallets/"+uuid.NewString(), nil, nil).Code)
	})

	t.Run("Error - correction needs a reason", func(t *testing.T) {
		w := h.do(http.MethodPost, walletPath+"/correct", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Success - correction then no drift", func(t *testing.T) {
		w := h.do(http.MethodPost, walletPath+"/correct", map[string]string{"reason": "missed credit"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var stored models.Wallet
		require.NoError(t, h.db.First(&stored, "user_id = ?", affiliate.ID).Error)
		assert.True(t, testutil.Dec("500000").Equal(stored.TotalEarnings))
		assert.True(t, testutil.Dec("500000").Equal(stored.Balance))

		w = h.do(http.MethodPost, walletPath+"/correct", map[string]string{"reason": "again"}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		var audit utils.AuditLog
		require.NoError(t, h.db.First(&audit, "event_type = ?", utils.AuditEventWalletCorrection).Error)
		require.NotNil(t, audit.ActorID)
		assert.Equal(t, h.admin, *audit.ActorID)
	})

	t.Run("Success - audit log listing", func(t *testing.T) {
		w := h.do(http.MethodGet, reconPath+"/audit-logs?event_type=WALLET_CORRECTION&user_id="+affiliate.ID.String(), nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Len(t, body["audit_logs"], 1)
	})

	t.Run("Success - workbook export", func(t *testing.T) {
		w := h.do(http.MethodGet, reconPath+"/wallets/export", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "wallet-reconciliation-")

		book, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		defer book.Close()
		assert.Contains(t, book.GetSheetList(), "Wallets")
	})

	t.Run("Success - invariant holds after correction", func(t *testing.T) {
		w := h.do(http.MethodGet, reconPath+"/invariants", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["holds"])
	})
}

func TestReconciliationOrphans(t *testing.T) {
	h := newHarness(t)
	f := h.fixture

	// Stored against the affiliate's user id instead of the profile id.
	affiliate, _ := f.Affiliate()
	f.Conversion(models.AffiliateProfileID(affiliate.ID), nil, "75000")

	w := h.do(http.MethodGet, reconPath+"/conversions/orphans", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = h.do(http.MethodPost, reconPath+"/conversions/orphans/repair?dry_run=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["dry_run"])

	w = h.do(http.MethodPost, reconPath+"/conversions/orphans/repair", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["repaired"])

	w = h.do(http.MethodGet, reconPath+"/conversions/orphans", nil, nil)
	assert.Equal(t, float64(0), decode(t, w)["count"])

	w = h.do(http.MethodPost, reconPath+"/conversions/orphans/prune", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["pruned"])
}

func TestReconciliationEntitlementsAndFulfillment(t *testing.T) {
	h := newHarness(t)
	f := h.fixture
	ctx := context.Background()

	course := f.Course("Ekspor Pemula")
	group := f.Group("Komunitas Eksportir")
	plan := f.Membership("Gold", models.DurationTwelveMonths, models.CommissionPercentage, "30", "1000000",
		[]*models.Course{course}, []*models.Group{group})
	member := f.User(models.RoleMemberPremium)
	f.ActiveMembership(member.ID, plan.ID, nil)
	entPath := reconPath + "/entitlements/" + member.ID.String()

	t.Run("Success - expected entitlements", func(t *testing.T) {
		w := h.do(http.MethodGet, entPath, nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("Success - dry run creates nothing", func(t *testing.T) {
		w := h.do(http.MethodPost, entPath+"?dry_run=true", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Len(t, body["missing_course_ids"], 1)
		assert.Equal(t, float64(0), body["enrollments_created"])
	})

	t.Run("Success - reconcile creates missing rows", func(t *testing.T) {
		w := h.do(http.MethodPost, entPath, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(1), body["enrollments_created"])
		assert.Equal(t, float64(1), body["group_memberships_created"])
	})

	t.Run("Error - fulfilling an unpaid transaction", func(t *testing.T) {
		txn := f.Transaction(member.ID, models.TransactionMembership, models.TransactionPending, "1000000", func(tx *models.Transaction) {
			tx.MembershipID = &plan.ID
		})
		w := h.do(http.MethodPost, reconPath+"/transactions/"+txn.ID.String()+"/fulfill", nil, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		w = h.do(http.MethodPost, reconPath+"/transactions/"+uuid.NewString()+"/fulfill", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Success - manual fulfillment is audited", func(t *testing.T) {
		buyer := f.User(models.RoleMemberFree)
		txn := f.Transaction(buyer.ID, models.TransactionMembership, models.TransactionSuccess, "1000000", func(tx *models.Transaction) {
			tx.MembershipID = &plan.ID
		})
		w := h.do(http.MethodPost, reconPath+"/transactions/"+txn.ID.String()+"/fulfill", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decode(t, w)["membership_created"])

		var count int64
		require.NoError(t, h.db.Model(&utils.AuditLog{}).Where("event_type = ?", utils.AuditEventManualFulfillment).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Success - backfill finds nothing left", func(t *testing.T) {
		w := h.do(http.MethodPost, reconPath+"/transactions/backfill", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("Success - synchronous and queued runs", func(t *testing.T) {
		w := h.do(http.MethodPost, reconPath+"/run", map[string]interface{}{"dry_run": true}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decode(t, w)["dry_run"])

		w = h.do(http.MethodPost, reconPath+"/run", map[string]interface{}{"async": true}, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
		jobID, _ := decode(t, w)["job_id"].(string)
		require.NotEmpty(t, jobID)

		job, err := h.queue.GetJob(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, "reconcile", job.Queue)
	})
}

func TestReconciliationCatalog(t *testing.T) {
	h := newHarness(t)
	f := h.fixture

	f.Membership("Paket Ekspor Pro", models.DurationOneMonth, models.CommissionFlat, "500", "250000", nil, nil)

	w := h.do(http.MethodGet, reconPath+"/commissions/warnings", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = h.do(http.MethodPost, reconPath+"/catalog/slugs?dry_run=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["dry_run"])
}
