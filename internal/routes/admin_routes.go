package routes

import (
	"github.com/eksporyuk/backend/internal/app"
	"github.com/eksporyuk/backend/internal/handlers"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupAdminRoutes registers the admin wallet and reconciliation routes on
// a group already guarded by the auth and admin middleware.
func SetupAdminRoutes(admin *gin.RouterGroup, s *app.Services, log *logrus.Logger) {
	handlerLog := log.WithField("component", "handlers")

	wallets := handlers.NewAdminWalletHandler(s.Wallets, handlerLog)
	walletGroup := admin.Group("/wallets")
	{
		walletGroup.GET("", wallets.GetAllWallets)
		walletGroup.GET("/:id/transactions", wallets.GetWalletTransactions)
		walletGroup.POST("/:id/adjust", wallets.AdjustWalletBalance)
	}

	rec := handlers.NewReconciliationHandler(handlers.ReconciliationServices{
		Ledger:       s.Ledger,
		Entitlements: s.Entitlements,
		Fulfillment:  s.Fulfillment,
		Runner:       s.Runner,
		Commission:   s.Commission,
		Catalog:      s.Catalog,
		Audit:        s.Audit,
		Queue:        s.Queue,
	}, handlerLog)

	recon := admin.Group("/reconciliation")
	{
		recon.GET("/wallets/export", rec.ExportWallets)
		recon.GET("/wallets/:user_id", rec.GetWallet)
		recon.POST("/wallets/:user_id/correct", rec.CorrectWallet)

		recon.GET("/entitlements/:user_id", rec.GetEntitlements)
		recon.POST("/entitlements/:user_id", rec.ReconcileEntitlements)

		recon.GET("/conversions/orphans", rec.ListOrphans)
		recon.POST("/conversions/orphans/repair", rec.RepairOrphans)
		recon.POST("/conversions/orphans/prune", rec.PruneOrphans)

		recon.GET("/invariants", rec.CheckInvariant)
		recon.GET("/commissions/warnings", rec.CommissionWarnings)

		recon.POST("/run", rec.Run)
		recon.POST("/transactions/backfill", rec.BackfillTransactions)
		recon.POST("/transactions/:id/fulfill", rec.FulfillTransaction)

		recon.POST("/catalog/slugs", rec.BackfillSlugs)
		recon.GET("/audit-logs", rec.ListAuditLogs)
	}
}
