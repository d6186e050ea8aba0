package handlers

import (
	"net/http"

	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WalletHandler serves an affiliate's own wallet
type WalletHandler struct {
	walletService *wallet.WalletService
	ledger        *ledger.Service
	log           logrus.FieldLogger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(walletService *wallet.WalletService, ledgerSvc *ledger.Service, log logrus.FieldLogger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		ledger:        ledgerSvc,
		log:           log,
	}
}

// GetWallet returns the authenticated user's wallet
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	w, err := h.walletService.GetWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// GetTransactions lists the authenticated user's wallet ledger
func (h *WalletHandler) GetTransactions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	w, err := h.walletService.GetWallet(ctx, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	page, pageSize := pagination(c)
	transactions, total, err := h.walletService.ListTransactions(ctx, w.ID, c.Query("type"), page, pageSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"pagination": gin.H{
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// GetEarningsCheck compares the user's wallet earnings with their conversions
func (h *WalletHandler) GetEarningsCheck(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	report, err := h.ledger.ReconcileWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
