package handlers

import (
	"net/http"

	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AdminWalletHandler handles admin wallet-related requests
type AdminWalletHandler struct {
	walletService *wallet.WalletService
	log           logrus.FieldLogger
}

// NewAdminWalletHandler creates a new admin wallet handler
func NewAdminWalletHandler(walletService *wallet.WalletService, log logrus.FieldLogger) *AdminWalletHandler {
	return &AdminWalletHandler{
		walletService: walletService,
		log:           log,
	}
}

// GetAllWallets gets all wallets in the system with pagination
func (h *AdminWalletHandler) GetAllWallets(c *gin.Context) {
	page, pageSize := pagination(c)

	wallets, total, err := h.walletService.ListWallets(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallets": wallets,
		"pagination": gin.H{
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// GetWalletTransactions lists the ledger of one wallet, optionally filtered by type
func (h *AdminWalletHandler) GetWalletTransactions(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet ID"})
		return
	}

	ctx := c.Request.Context()
	w, err := h.walletService.GetWalletByID(ctx, walletID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	page, pageSize := pagination(c)
	transactions, total, err := h.walletService.ListTransactions(ctx, walletID, c.Query("type"), page, pageSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"wallet":       w,
		"pagination": gin.H{
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

type adjustWalletRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type" binding:"required,oneof=credit debit"`
	Reference   string          `json:"reference" binding:"required"`
	Description string          `json:"description" binding:"required"`
}

// AdjustWalletBalance manually credits or debits a wallet balance. Earnings
// totals are untouched; those follow conversions only.
func (h *AdminWalletHandler) AdjustWalletBalance(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet ID"})
		return
	}

	var input adjustWalletRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !input.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	delta := input.Amount
	if input.Type == "debit" {
		delta = delta.Neg()
	}

	w, entry, err := h.walletService.AdjustBalance(c.Request.Context(), walletID, delta, input.Reference, input.Description, actorID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet":      w,
		"transaction": entry,
		"message":     "Wallet balance adjusted successfully",
	})
}
