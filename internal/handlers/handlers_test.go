package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/middleware"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/services/catalog"
	"github.com/eksporyuk/backend/internal/services/commission"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/reconcile"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/eksporyuk/backend/internal/testutil"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCallbackToken = "callback-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	db      *gorm.DB
	queue   *queue.RedisQueue
	admin   models.UserID
	router  *gin.Engine
	fixture *testutil.Fixtures
	svc     ReconciliationServices
	wallets *wallet.WalletService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := queue.NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	db := testutil.NewTestDB(t)
	log := logger.Discard()
	audit := utils.NewAuditLogger(db)
	wallets := wallet.NewWalletService(db, log)
	ent := entitlement.NewService(db, audit, log)
	ful := fulfillment.NewService(db, wallets, ent, commission.Options{}, log)
	led := ledger.NewService(db, wallets, audit, log, testutil.Dec("1"))
	q := queue.NewRedisQueue(client, utils.DefaultBackoff, log)

	h := &harness{
		db:      db,
		queue:   q,
		fixture: testutil.NewFixtures(t, db),
		wallets: wallets,
		svc: ReconciliationServices{
			Ledger:       led,
			Entitlements: ent,
			Fulfillment:  ful,
			Runner:       reconcile.NewRunner(db, ent, led, ful, nil, log, reconcile.Config{Concurrency: 1, MaxAttempts: 1}),
			Commission:   commission.NewService(db, commission.Options{}, log),
			Catalog:      catalog.NewService(db, audit, log),
			Audit:        audit,
			Queue:        q,
		},
	}
	h.admin = h.fixture.User(models.RoleAdmin).ID
	h.router = h.newRouter(NewWebhookHandler(db, ful, q, testCallbackToken, nil, log))
	return h
}

// newRouter mounts the handlers behind a stand-in for the auth middleware
func (h *harness) newRouter(webhooks *WebhookHandler) *gin.Engine {
	log := logger.Discard()
	r := gin.New()
	r.POST("/api/v1/webhooks/xendit/invoice", webhooks.XenditInvoiceCallback)

	admin := r.Group("/api/v1/admin", func(c *gin.Context) {
		middleware.SetPrincipal(c, middleware.Principal{UserID: h.admin, IsAdmin: true})
		c.Next()
	})

	rec := NewReconciliationHandler(h.svc, log)
	g := admin.Group("/reconciliation")
	g.GET("/wallets/export", rec.ExportWallets)
	g.GET("/wallets/:user_id", rec.GetWallet)
	g.POST("/wallets/:user_id/correct", rec.CorrectWallet)
	g.GET("/entitlements/:user_id", rec.GetEntitlements)
	g.POST("/entitlements/:user_id", rec.ReconcileEntitlements)
	g.GET("/conversions/orphans", rec.ListOrphans)
	g.POST("/conversions/orphans/repair", rec.RepairOrphans)
	g.POST("/conversions/orphans/prune", rec.PruneOrphans)
	g.GET("/invariants", rec.CheckInvariant)
	g.GET("/commissions/warnings", rec.CommissionWarnings)
	g.POST("/run", rec.Run)
	g.POST("/transactions/backfill", rec.BackfillTransactions)
	g.POST("/transactions/:id/fulfill", rec.FulfillTransaction)
	g.POST("/catalog/slugs", rec.BackfillSlugs)
	g.GET("/audit-logs", rec.ListAuditLogs)

	wallets := NewAdminWalletHandler(h.wallets, log)
	admin.GET("/wallets", wallets.GetAllWallets)
	admin.GET("/wallets/:id/transactions", wallets.GetWalletTransactions)
	admin.POST("/wallets/:id/adjust", wallets.AdjustWalletBalance)
	return r
}

func (h *harness) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	return serve(h.router, method, path, body, headers)
}

func serve(r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
