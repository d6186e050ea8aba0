package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eksporyuk/backend/internal/app"
	"github.com/eksporyuk/backend/internal/config"
	"github.com/eksporyuk/backend/internal/logger"
	"github.com/eksporyuk/backend/internal/metrics"
	"github.com/eksporyuk/backend/internal/middleware"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/testutil"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client, err := queue.NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Workers: 1, CORSOrigins: []string{"http://localhost:3000"}},
		JWT:         config.JWTConfig{Secret: "routes-secret"},
		Xendit:      config.XenditConfig{CallbackToken: "callback"},
		Reconcile: config.ReconcileConfig{
			Tolerance:       testutil.Dec("1"),
			FlatSanityFloor: testutil.Dec("1000"),
			Concurrency:     1,
			MaxAttempts:     1,
		},
	}
	db := testutil.NewTestDB(t)
	log := logger.Discard()
	services := app.New(cfg, db, client, metrics.New(), log)

	limiter := middleware.NewRateLimiter(100, 100)
	defer limiter.Stop()
	router := NewRouter(cfg, services, limiter, log)

	member, err := utils.GenerateToken(cfg.JWT.Secret, models.NewUserID(), "member@example.com", false, time.Hour)
	require.NoError(t, err)
	admin, err := utils.GenerateToken(cfg.JWT.Secret, models.NewUserID(), "admin@example.com", true, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"Success - health", http.MethodGet, "/health", "", http.StatusOK},
		{"Success - metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"Error - wallet without token", http.MethodGet, "/api/v1/wallet", "", http.StatusUnauthorized},
		{"Error - member has no wallet yet", http.MethodGet, "/api/v1/wallet", member, http.StatusNotFound},
		{"Error - member on admin route", http.MethodGet, "/api/v1/admin/reconciliation/invariants", member, http.StatusForbidden},
		{"Success - admin invariants", http.MethodGet, "/api/v1/admin/reconciliation/invariants", admin, http.StatusOK},
		{"Success - admin wallet list", http.MethodGet, "/api/v1/admin/wallets", admin, http.StatusOK},
		{"Error - webhook without callback token", http.MethodPost, "/api/v1/webhooks/xendit/invoice", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}
