package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/eksporyuk/backend/internal/export"
	"github.com/eksporyuk/backend/internal/jobs"
	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/queue"
	"github.com/eksporyuk/backend/internal/services/catalog"
	"github.com/eksporyuk/backend/internal/services/commission"
	"github.com/eksporyuk/backend/internal/services/entitlement"
	"github.com/eksporyuk/backend/internal/services/fulfillment"
	"github.com/eksporyuk/backend/internal/services/ledger"
	"github.com/eksporyuk/backend/internal/services/reconcile"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReconciliationServices bundles what the reconciliation endpoints call
type ReconciliationServices struct {
	Ledger       *ledger.Service
	Entitlements *entitlement.Service
	Fulfillment  *fulfillment.Service
	Runner       *reconcile.Runner
	Commission   *commission.Service
	Catalog      *catalog.Service
	Audit        *utils.AuditLogger
	// Queue is optional; without it runs execute inline.
	Queue *queue.RedisQueue
}

// ReconciliationHandler exposes the reconciliation engine to admins
type ReconciliationHandler struct {
	svc ReconciliationServices
	log logrus.FieldLogger
}

// NewReconciliationHandler creates a new reconciliation handler
func NewReconciliationHandler(svc ReconciliationServices, log logrus.FieldLogger) *ReconciliationHandler {
	return &ReconciliationHandler{svc: svc, log: log}
}

// GetWallet compares one user's wallet with their conversions
func (h *ReconciliationHandler) GetWallet(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	report, err := h.svc.Ledger.ReconcileWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type correctWalletRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CorrectWallet sets a drifted wallet's earnings to what its conversions back
func (h *ReconciliationHandler) CorrectWallet(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var input correctWalletRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.Ledger.ApplyCorrection(c.Request.Context(), userID, ledger.Correction{
		ActorID: actorID(c),
		Reason:  input.Reason,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExportWallets streams every wallet report and orphan as an xlsx workbook
func (h *ReconciliationHandler) ExportWallets(c *gin.Context) {
	ctx := c.Request.Context()
	reports, err := h.svc.Ledger.WalletReports(ctx, nil)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	orphans, err := h.svc.Ledger.FindOrphans(ctx)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	now := time.Now().UTC()
	var buf bytes.Buffer
	if err := export.WalletWorkbook(&buf, reports, orphans, now); err != nil {
		respondError(c, h.log, err)
		return
	}

	filename := fmt.Sprintf("wallet-reconciliation-%s.xlsx", now.Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// GetEntitlements resolves what a user's active memberships grant
func (h *ReconciliationHandler) GetEntitlements(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	ent, err := h.svc.Entitlements.Expected(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, ent)
}

// ReconcileEntitlements creates a user's missing enrollments and group memberships
func (h *ReconciliationHandler) ReconcileEntitlements(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	result, err := h.svc.Entitlements.Reconcile(c.Request.Context(), userID, entitlement.Options{
		DryRun:  dryRun(c),
		ActorID: actorID(c),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListOrphans lists conversions whose affiliate id matches no profile
func (h *ReconciliationHandler) ListOrphans(c *gin.Context) {
	orphans, err := h.svc.Ledger.FindOrphans(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orphans": orphans, "count": len(orphans)})
}

// RepairOrphans repoints orphans stored with a user id to that user's profile
func (h *ReconciliationHandler) RepairOrphans(c *gin.Context) {
	report, err := h.svc.Ledger.RepairOrphans(c.Request.Context(), ledger.OrphanOptions{
		DryRun:  dryRun(c),
		ActorID: actorID(c),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// PruneOrphans deletes orphans that were never credited and cannot be repaired
func (h *ReconciliationHandler) PruneOrphans(c *gin.Context) {
	report, err := h.svc.Ledger.PruneOrphans(c.Request.Context(), ledger.OrphanOptions{
		DryRun:  dryRun(c),
		ActorID: actorID(c),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CheckInvariant compares total wallet earnings with valid conversions
func (h *ReconciliationHandler) CheckInvariant(c *gin.Context) {
	report, err := h.svc.Ledger.CheckInvariant(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CommissionWarnings audits every membership and product commission config
func (h *ReconciliationHandler) CommissionWarnings(c *gin.Context) {
	warnings, err := h.svc.Commission.AuditAll(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": warnings, "count": len(warnings)})
}

type runRequest struct {
	UserIDs                []models.UserID `json:"user_ids"`
	DryRun                 bool            `json:"dry_run"`
	ApplyWalletCorrections bool            `json:"apply_wallet_corrections"`
	Async                  bool            `json:"async"`
}

// Run reconciles entitlements and wallets for all or the given users. With
// async set and a queue available the run is queued and 202 returned.
func (h *ReconciliationHandler) Run(c *gin.Context) {
	var input runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx := c.Request.Context()

	if input.Async && h.svc.Queue != nil {
		jobID, err := jobs.EnqueueReconcile(ctx, h.svc.Queue, jobs.ReconcileJobPayload{
			UserIDs:                input.UserIDs,
			DryRun:                 input.DryRun,
			ApplyWalletCorrections: input.ApplyWalletCorrections,
			ActorID:                actorID(c),
		})
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
		return
	}

	report, err := h.svc.Runner.Run(ctx, reconcile.Options{
		UserIDs:                input.UserIDs,
		DryRun:                 input.DryRun,
		ApplyWalletCorrections: input.ApplyWalletCorrections,
		ActorID:                actorID(c),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// BackfillTransactions fulfills SUCCESS transactions missing a membership or conversion
func (h *ReconciliationHandler) BackfillTransactions(c *gin.Context) {
	report, err := h.svc.Runner.BackfillTransactions(c.Request.Context(), reconcile.Options{
		DryRun:  dryRun(c),
		ActorID: actorID(c),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// FulfillTransaction replays fulfillment of one SUCCESS transaction
func (h *ReconciliationHandler) FulfillTransaction(c *gin.Context) {
	transactionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}
	ctx := c.Request.Context()

	outcome, err := h.svc.Fulfillment.Fulfill(ctx, transactionID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if outcome.Changed() {
		if err := h.svc.Audit.LogEvent(ctx, utils.AuditEntry{
			EventType:   utils.AuditEventManualFulfillment,
			Severity:    utils.AuditSeverityWarning,
			ActorID:     actorID(c),
			Description: "Transaction fulfilled manually",
			Details: map[string]interface{}{
				"transaction_id":     transactionID.String(),
				"membership_created": outcome.MembershipCreated,
				"conversion_created": outcome.ConversionCreated,
				"wallet_credited":    outcome.WalletCredited,
			},
		}); err != nil {
			h.log.WithError(err).Error("failed to audit manual fulfillment")
		}
	}
	c.JSON(http.StatusOK, outcome)
}

// BackfillSlugs fills empty catalog slugs
func (h *ReconciliationHandler) BackfillSlugs(c *gin.Context) {
	report, err := h.svc.Catalog.BackfillSlugs(c.Request.Context(), dryRun(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListAuditLogs pages through audit rows, optionally for one user or event type
func (h *ReconciliationHandler) ListAuditLogs(c *gin.Context) {
	var target *models.UserID
	if raw := c.Query("user_id"); raw != "" {
		id, err := models.ParseUserID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID"})
			return
		}
		target = &id
	}
	var eventTypes []utils.AuditEventType
	for _, t := range c.QueryArray("event_type") {
		eventTypes = append(eventTypes, utils.AuditEventType(t))
	}

	page, pageSize := pagination(c)
	logs, total, err := h.svc.Audit.QueryAuditLogs(c.Request.Context(), target, eventTypes, pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"audit_logs": logs,
		"pagination": gin.H{
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}
