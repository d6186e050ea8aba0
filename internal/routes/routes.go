package routes

import (
	"net/http"
	"time"

	"github.com/eksporyuk/backend/internal/app"
	"github.com/eksporyuk/backend/internal/config"
	"github.com/eksporyuk/backend/internal/handlers"
	"github.com/eksporyuk/backend/internal/middleware"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the gin engine with global middleware and every route
func NewRouter(cfg *config.Config, s *app.Services, rateLimiter *middleware.RateLimiter, log *logrus.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log.WithField("component", "http")))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(cfg.IsProduction())))
	if s.Metrics != nil {
		router.Use(s.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	router.GET("/health", healthCheck(s))

	SetupWebhookRoutes(router, s, cfg.Xendit.CallbackToken, rateLimiter, log)

	api := router.Group("/api/v1")
	api.Use(rateLimiter.IPRateLimiterMiddleware(), middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		walletHandler := handlers.NewWalletHandler(s.Wallets, s.Ledger, log.WithField("component", "handlers"))
		api.GET("/wallet", walletHandler.GetWallet)
		api.GET("/wallet/transactions", walletHandler.GetTransactions)
		api.GET("/wallet/earnings-check", walletHandler.GetEarningsCheck)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminMiddleware())
	SetupAdminRoutes(admin, s, log)

	return router
}

func healthCheck(s *app.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := gin.H{"status": "ok", "time": time.Now().UTC()}
		code := http.StatusOK

		sqlDB, err := s.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}

		if s.Queue != nil {
			if stats, err := s.Queue.Stats(c.Request.Context(), queue.QueueFulfillment); err == nil {
				status["fulfillment_queue"] = stats
			}
		}

		c.JSON(code, status)
	}
}
