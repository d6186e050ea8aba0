package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditEventType represents the type of reconciliation event
type AuditEventType string

// Define audit event types
const (
	AuditEventWalletCorrection   AuditEventType = "WALLET_CORRECTION"
	AuditEventOrphanRepaired     AuditEventType = "ORPHAN_CONVERSION_REPAIRED"
	AuditEventOrphanPruned       AuditEventType = "ORPHAN_CONVERSION_PRUNED"
	AuditEventEntitlementGranted AuditEventType = "ENTITLEMENT_GRANTED"
	AuditEventRoleChange         AuditEventType = "ROLE_CHANGE"
	AuditEventManualFulfillment  AuditEventType = "MANUAL_FULFILLMENT"
	AuditEventSlugBackfill       AuditEventType = "SLUG_BACKFILL"
	AuditEventAdminAction        AuditEventType = "ADMIN_ACTION"
)

// AuditEventSeverity represents the severity level of an audit event
type AuditEventSeverity string

// Define audit event severity levels
const (
	AuditSeverityInfo     AuditEventSeverity = "INFO"
	AuditSeverityWarning  AuditEventSeverity = "WARNING"
	AuditSeverityError    AuditEventSeverity = "ERROR"
	AuditSeverityCritical AuditEventSeverity = "CRITICAL"
)

// AuditLog is a durable record of a data correction or admin action
type AuditLog struct {
	ID           uuid.UUID          `gorm:"type:uuid;primary_key" json:"id"`
	Timestamp    time.Time          `gorm:"index" json:"timestamp"`
	ActorID      *models.UserID     `gorm:"type:uuid" json:"actor_id,omitempty"`
	TargetUserID *models.UserID     `gorm:"type:uuid;index" json:"target_user_id,omitempty"`
	EventType    AuditEventType     `gorm:"type:varchar(50);index" json:"event_type"`
	Severity     AuditEventSeverity `gorm:"type:varchar(20)" json:"severity"`
	Description  string             `gorm:"type:text" json:"description"`
	Details      datatypes.JSON     `json:"details,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// AuditEntry describes one event to be recorded
type AuditEntry struct {
	EventType    AuditEventType
	Severity     AuditEventSeverity
	ActorID      *models.UserID
	TargetUserID *models.UserID
	Description  string
	Details      map[string]interface{}
}

// AuditLogger writes audit log rows
type AuditLogger struct {
	db *gorm.DB
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(db *gorm.DB) *AuditLogger {
	return &AuditLogger{
		db: db,
	}
}

// WithTx returns a logger that writes inside the given database transaction,
// so the audit row commits or rolls back with the change it describes.
func (a *AuditLogger) WithTx(tx *gorm.DB) *AuditLogger {
	return &AuditLogger{db: tx}
}

// LogEvent records an audit entry
func (a *AuditLogger) LogEvent(ctx context.Context, entry AuditEntry) error {
	var details datatypes.JSON
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit log details: %w", err)
		}
		details = raw
	}

	severity := entry.Severity
	if severity == "" {
		severity = AuditSeverityInfo
	}

	auditLog := AuditLog{
		Timestamp:    time.Now().UTC(),
		ActorID:      entry.ActorID,
		TargetUserID: entry.TargetUserID,
		EventType:    entry.EventType,
		Severity:     severity,
		Description:  entry.Description,
		Details:      details,
	}

	if err := a.db.WithContext(ctx).Create(&auditLog).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// LogAdminAction logs administrative actions
func (a *AuditLogger) LogAdminAction(ctx context.Context, adminID *models.UserID, targetUserID *models.UserID, action string, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["action"] = action

	return a.LogEvent(ctx, AuditEntry{
		EventType:    AuditEventAdminAction,
		Severity:     AuditSeverityInfo,
		ActorID:      adminID,
		TargetUserID: targetUserID,
		Description:  "Admin action: " + action,
		Details:      details,
	})
}

// QueryAuditLogs queries audit logs with filters
func (a *AuditLogger) QueryAuditLogs(ctx context.Context, targetUserID *models.UserID, eventTypes []AuditEventType, limit, offset int) ([]AuditLog, int64, error) {
	var logs []AuditLog
	var count int64

	query := a.db.WithContext(ctx).Model(&AuditLog{})
	if targetUserID != nil {
		query = query.Where("target_user_id = ?", *targetUserID)
	}
	if len(eventTypes) > 0 {
		query = query.Where("event_type IN ?", eventTypes)
	}

	if err := query.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	if err := query.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return logs, count, nil
}
