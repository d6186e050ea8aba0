package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eksporyuk/backend/internal/jobs"
	"github.com/eksporyuk/backend/internal/metrics"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	providerXendit      = "xendit"
	callbackTokenHeader = "X-CALLBACK-TOKEN"
)

// xenditInvoiceCallback is the subset of the invoice callback body we use
type xenditInvoiceCallback struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	PaidAt     *time.Time `json:"paid_at"`
}

// eventID keys a callback for deduplication. Callbacks without an invoice id
// fall back to the merchant's external id, which is unique per transaction.
func (p *xenditInvoiceCallback) eventID() string {
	key := p.ID
	if key == "" {
		key = p.ExternalID
	}
	return key + ":" + strings.ToUpper(p.Status)
}

// gatewayStatus maps an invoice status onto a transaction status
func gatewayStatus(status string) (models.TransactionStatus, bool) {
	switch strings.ToUpper(status) {
	case "PAID", "SETTLED":
		return models.TransactionSuccess, true
	case "EXPIRED":
		return models.TransactionExpired, true
	case "FAILED":
		return models.TransactionFailed, true
	}
	return "", false
}

// WebhookHandler handles payment gateway callbacks
type WebhookHandler struct {
	db            *gorm.DB
	fulfillment   *fulfillment.Service
	enqueue       func(ctx context.Context, transactionID uuid.UUID) error
	callbackToken string
	metrics       *metrics.Metrics
	log           logrus.FieldLogger
}

// NewWebhookHandler creates a new webhook handler. With a nil queue paid
// transactions are fulfilled inline.
func NewWebhookHandler(db *gorm.DB, fulfillmentSvc *fulfillment.Service, q *queue.RedisQueue, callbackToken string, m *metrics.Metrics, log logrus.FieldLogger) *WebhookHandler {
	h := &WebhookHandler{
		db:            db,
		fulfillment:   fulfillmentSvc,
		callbackToken: callbackToken,
		metrics:       m,
		log:           log,
	}
	if q != nil {
		h.enqueue = func(ctx context.Context, transactionID uuid.UUID) error {
			_, err := jobs.EnqueueFulfillment(ctx, q, transactionID)
			return err
		}
	}
	return h
}

// XenditInvoiceCallback records an invoice callback, moves the transaction
// to the reported status and queues fulfillment once it is paid.
func (h *WebhookHandler) XenditInvoiceCallback(c *gin.Context) {
	if !utils.VerifyCallbackToken(c.GetHeader(callbackTokenHeader), h.callbackToken) {
		h.metrics.RecordWebhook("unauthorized")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid callback token"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	var payload xenditInvoiceCallback
	if err := json.Unmarshal(body, &payload); err != nil || payload.ExternalID == "" || payload.Status == "" {
		h.metrics.RecordWebhook("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	logEntry := h.log.WithFields(logrus.Fields{
		"external_id": payload.ExternalID,
		"status":      payload.Status,
	})

	webhook := models.PaymentWebhook{
		EventID:    payload.eventID(),
		Provider:   providerXendit,
		ExternalID: payload.ExternalID,
		Status:     strings.ToUpper(payload.Status),
		RawData:    datatypes.JSON(body),
	}
	res := h.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&webhook)
	if res.Error != nil {
		logEntry.WithError(res.Error).Error("failed to record webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record webhook"})
		return
	}
	if res.RowsAffected == 0 {
		logEntry.Info("duplicate webhook ignored")
		h.metrics.RecordWebhook("duplicate")
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	status, known := gatewayStatus(payload.Status)
	if !known {
		h.finish(ctx, &webhook, "")
		h.metrics.RecordWebhook("ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	txn, changed, err := h.fulfillment.MarkStatus(ctx, payload.ExternalID, status, payload.PaidAt)
	switch {
	case errors.Is(err, fulfillment.ErrTransactionNotFound):
		logEntry.Warn("webhook for unknown transaction")
		h.finish(ctx, &webhook, err.Error())
		h.metrics.RecordWebhook("ignored")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case errors.Is(err, models.ErrInvalidTransition):
		logEntry.WithError(err).Warn("webhook status rejected")
		h.finish(ctx, &webhook, err.Error())
		h.metrics.RecordWebhook("rejected")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		// Forget the event so the gateway's redelivery is processed.
		if delErr := h.db.WithContext(ctx).Delete(&webhook).Error; delErr != nil {
			logEntry.WithError(delErr).Error("failed to remove webhook after error")
		}
		logEntry.WithError(err).Error("failed to update transaction from webhook")
		h.metrics.RecordWebhook("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		return
	}

	if txn.Status == models.TransactionSuccess {
		h.dispatchFulfillment(ctx, txn.ID, logEntry)
	}

	h.finish(ctx, &webhook, "")
	h.metrics.RecordWebhook("accepted")
	c.JSON(http.StatusOK, gin.H{
		"status":             "accepted",
		"transaction_id":     txn.ID,
		"transaction_status": txn.Status,
		"changed":            changed,
	})
}

// dispatchFulfillment queues fulfillment, falling back to running it inline.
// A failure here is left to the nightly backfill.
func (h *WebhookHandler) dispatchFulfillment(ctx context.Context, transactionID uuid.UUID, logEntry logrus.FieldLogger) {
	if h.enqueue != nil {
		err := h.enqueue(ctx, transactionID)
		if err == nil {
			return
		}
		logEntry.WithError(err).Warn("failed to queue fulfillment, running inline")
	}

	if _, err := h.fulfillment.Fulfill(ctx, transactionID); err != nil {
		logEntry.WithError(err).Error("inline fulfillment failed")
	}
}

func (h *WebhookHandler) finish(ctx context.Context, webhook *models.PaymentWebhook, errMsg string) {
	now := time.Now().UTC()
	updates := map[string]interface{}{"processed_at": now}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if err := h.db.WithContext(ctx).Model(webhook).Updates(updates).Error; err != nil {
		h.log.WithError(err).WithField("event_id", webhook.EventID).Error("failed to mark webhook processed")
	}
}
