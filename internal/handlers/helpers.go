package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/eksporyuk/backend/internal/middleware"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/services/commission"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/wallet"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxPageSize = 100

// pagination reads page and page_size with the usual defaults
func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// currentUserID returns the authenticated user set by AuthMiddleware
func currentUserID(c *gin.Context) (models.UserID, bool) {
	return middleware.CurrentUserID(c)
}

// actorID is the authenticated admin recorded in audit rows, if any
func actorID(c *gin.Context) *models.UserID {
	id, ok := currentUserID(c)
	if !ok {
		return nil
	}
	return &id
}

func userIDParam(c *gin.Context) (models.UserID, bool) {
	id, err := models.ParseUserID(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
		return models.UserID{}, false
	}
	return id, true
}

func dryRun(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))
	return err == nil && v
}

// respondError maps service errors onto HTTP statuses. Anything unknown is
// logged and reported as a 500 without leaking the cause.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, fulfillment.ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNoDrift),
		errors.Is(err, wallet.ErrDuplicateReference),
		errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, fulfillment.ErrTransactionNotSuccessful),
		errors.Is(err, fulfillment.ErrAffiliateProfileNotFound),
		errors.Is(err, fulfillment.ErrMembershipNotFound),
		errors.Is(err, fulfillment.ErrCommissionConfigNotFound),
		errors.Is(err, commission.ErrUnknownCommissionType),
		errors.Is(err, commission.ErrNegativeAmount),
		errors.Is(err, wallet.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
