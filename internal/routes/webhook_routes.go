package routes

import (
	"github.com/eksporyuk/backend/internal/app"
	"github.com/eksporyuk/backend/internal/handlers"
	"github.com/eksporyuk/backend/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupWebhookRoutes configures routes for payment gateway callbacks. They
// authenticate with the gateway callback token instead of a JWT.
func SetupWebhookRoutes(router *gin.Engine, s *app.Services, callbackToken string, rateLimiter *middleware.RateLimiter, log *logrus.Logger) {
	webhookHandler := handlers.NewWebhookHandler(s.DB, s.Fulfillment, s.Queue, callbackToken, s.Metrics, log.WithField("component", "webhooks"))

	webhookGroup := router.Group("/api/v1/webhooks")
	webhookGroup.Use(rateLimiter.IPRateLimiterMiddleware())
	{
		webhookGroup.POST("/xendit/invoice", webhookHandler.XenditInvoiceCallback)
	}
}
