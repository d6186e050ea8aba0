package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options controls Reconcile
type Options struct {
	DryRun bool
	// ActorID is recorded in the audit log when rows are created.
	ActorID *models.UserID
}

// Result reports what Reconcile found and did for one user
type Result struct {
	UserID                  models.UserID     `json:"user_id"`
	DryRun                  bool              `json:"dry_run"`
	ActiveMemberships       int               `json:"active_memberships"`
	ExpectedCourses         int               `json:"expected_courses"`
	ExpectedGroups          int               `json:"expected_groups"`
	MissingCourseIDs        []uuid.UUID       `json:"missing_course_ids"`
	MissingGroupIDs         []uuid.UUID       `json:"missing_group_ids"`
	EnrollmentsCreated      int               `json:"enrollments_created"`
	GroupMembershipsCreated int               `json:"group_memberships_created"`
	Memberships             []MembershipLinks `json:"memberships"`
	Unconfigured            []uuid.UUID       `json:"unconfigured"`
	// NoLinkedEntitlements is set when the user has active memberships but
	// none of them links any course or group.
	NoLinkedEntitlements bool `json:"no_linked_entitlements"`
	RoleUpgraded         bool `json:"role_upgraded"`
	// RoleDrift flags a MEMBER_PREMIUM user without any active membership.
	// It is reported for review and never changed here.
	RoleDrift bool `json:"role_drift"`
}

// Changed reports whether the run created or changed anything
func (r *Result) Changed() bool {
	return r.EnrollmentsCreated > 0 || r.GroupMembershipsCreated > 0 || r.RoleUpgraded
}

// Flagged reports whether the run found something needing a human
func (r *Result) Flagged() bool {
	return r.RoleDrift || len(r.Unconfigured) > 0
}

// Service resolves and reconciles entitlements
type Service struct {
	db    *gorm.DB
	audit *utils.AuditLogger
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewService creates a new entitlement service
func NewService(db *gorm.DB, audit *utils.AuditLogger, log logrus.FieldLogger) *Service {
	return &Service{
		db:    db,
		audit: audit,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// activeMemberships loads the user's current memberships that came from a
// MEMBERSHIP purchase, with their course and group links.
func (s *Service) activeMemberships(tx *gorm.DB, userID models.UserID) ([]models.Membership, error) {
	var rows []models.UserMembership
	err := tx.
		Preload("Membership.Courses").
		Preload("Membership.Groups").
		Joins("LEFT JOIN transactions ON transactions.id = user_memberships.transaction_id").
		Where("user_memberships.user_id = ? AND user_memberships.status = ?", userID, models.UserMembershipActive).
		Where("user_memberships.end_date IS NULL OR user_memberships.end_date > ?", s.now()).
		Where("transactions.id IS NULL OR transactions.type = ?", models.TransactionMembership).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error loading active memberships: %w", err)
	}

	memberships := make([]models.Membership, 0, len(rows))
	for _, um := range rows {
		memberships = append(memberships, um.Membership)
	}
	return memberships, nil
}

func loadUser(tx *gorm.DB, userID models.UserID) (*models.User, error) {
	var user models.User
	err := tx.First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return &user, nil
}

// Expected returns the access set the user is owed
func (s *Service) Expected(ctx context.Context, userID models.UserID) (*Entitlements, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadUser(db, userID); err != nil {
		return nil, err
	}

	memberships, err := s.activeMemberships(db, userID)
	if err != nil {
		return nil, err
	}

	ent := ResolveEntitlements(userID, memberships)
	return &ent, nil
}

// Reconcile compares the user's expected access with their enrollment and
// group rows and creates whatever is missing. Existing rows are never
// removed. A dry run only reports.
func (s *Service) Reconcile(ctx context.Context, userID models.UserID, opts Options) (*Result, error) {
	var result *Result

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}

		memberships, err := s.activeMemberships(tx, userID)
		if err != nil {
			return err
		}
		ent := ResolveEntitlements(userID, memberships)

		result = &Result{
			UserID:            userID,
			DryRun:            opts.DryRun,
			ActiveMemberships: len(ent.Memberships),
			ExpectedCourses:   len(ent.CourseIDs),
			ExpectedGroups:    len(ent.GroupIDs),
			Memberships:       ent.Memberships,
			Unconfigured:      ent.Unconfigured,
		}
		result.NoLinkedEntitlements = len(ent.Memberships) > 0 && len(ent.CourseIDs) == 0 && len(ent.GroupIDs) == 0
		result.RoleDrift = user.Role == models.RoleMemberPremium && len(ent.Memberships) == 0

		if result.MissingCourseIDs, err = missingCourses(tx, userID, ent.CourseIDs); err != nil {
			return err
		}
		if result.MissingGroupIDs, err = missingGroups(tx, userID, ent.GroupIDs); err != nil {
			return err
		}

		upgrade := user.Role == models.RoleMemberFree && len(ent.Memberships) > 0
		if opts.DryRun {
			result.RoleUpgraded = upgrade
			return nil
		}

		if result.EnrollmentsCreated, err = enrollCourses(tx, userID, result.MissingCourseIDs); err != nil {
			return err
		}
		if result.GroupMembershipsCreated, err = joinGroups(tx, userID, result.MissingGroupIDs); err != nil {
			return err
		}
		if upgrade {
			if result.RoleUpgraded, err = upgradeRole(tx, userID); err != nil {
				return err
			}
		}

		audit := s.audit.WithTx(tx)
		if result.RoleUpgraded {
			if err := audit.LogEvent(ctx, utils.AuditEntry{
				EventType:    utils.AuditEventRoleChange,
				ActorID:      opts.ActorID,
				TargetUserID: &userID,
				Description:  "Role upgraded to MEMBER_PREMIUM for an active membership",
				Details: map[string]interface{}{
					"from": models.RoleMemberFree,
					"to":   models.RoleMemberPremium,
				},
			}); err != nil {
				return err
			}
		}
		if result.Changed() {
			return audit.LogEvent(ctx, utils.AuditEntry{
				EventType:    utils.AuditEventEntitlementGranted,
				ActorID:      opts.ActorID,
				TargetUserID: &userID,
				Description:  "Missing entitlements created by reconciliation",
				Details: map[string]interface{}{
					"enrollments_created":       result.EnrollmentsCreated,
					"group_memberships_created": result.GroupMembershipsCreated,
					"role_upgraded":             result.RoleUpgraded,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := s.log.WithFields(logrus.Fields{
		"user_id":                   userID.String(),
		"dry_run":                   opts.DryRun,
		"enrollments_created":       result.EnrollmentsCreated,
		"group_memberships_created": result.GroupMembershipsCreated,
	})
	if result.NoLinkedEntitlements {
		entry.Warn("active memberships link no courses or groups")
	}
	if result.RoleDrift {
		entry.Warn("premium role without an active membership")
	}
	entry.Debug("entitlements reconciled")

	return result, nil
}

// GrantWithTx creates the enrollments and group memberships linked to one
// membership, inside the caller's transaction. It returns how many rows
// were new.
func (s *Service) GrantWithTx(tx *gorm.DB, userID models.UserID, membershipID uuid.UUID) (courses, groups int, err error) {
	var courseIDs, groupIDs []uuid.UUID
	if err := tx.Model(&models.MembershipCourse{}).
		Where("membership_id = ?", membershipID).
		Pluck("course_id", &courseIDs).Error; err != nil {
		return 0, 0, fmt.Errorf("error loading membership courses: %w", err)
	}
	if err := tx.Model(&models.MembershipGroup{}).
		Where("membership_id = ?", membershipID).
		Pluck("group_id", &groupIDs).Error; err != nil {
		return 0, 0, fmt.Errorf("error loading membership groups: %w", err)
	}

	if courses, err = enrollCourses(tx, userID, courseIDs); err != nil {
		return 0, 0, err
	}
	if groups, err = joinGroups(tx, userID, groupIDs); err != nil {
		return 0, 0, err
	}
	return courses, groups, nil
}

// UpgradeRoleWithTx promotes a MEMBER_FREE user to MEMBER_PREMIUM. Other
// roles are left alone.
func (s *Service) UpgradeRoleWithTx(tx *gorm.DB, userID models.UserID) (bool, error) {
	return upgradeRole(tx, userID)
}

// ExpireMemberships marks ACTIVE memberships whose end date has passed as
// EXPIRED and returns how many changed.
func (s *Service) ExpireMemberships(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.UserMembership{}).
		Where("status = ? AND end_date IS NOT NULL AND end_date <= ?", models.UserMembershipActive, now.UTC()).
		Update("status", models.UserMembershipExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("error expiring memberships: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		s.log.WithField("expired", res.RowsAffected).Info("memberships expired")
	}
	return res.RowsAffected, nil
}

func missingCourses(tx *gorm.DB, userID models.UserID, want []uuid.UUID) ([]uuid.UUID, error) {
	if len(want) == 0 {
		return []uuid.UUID{}, nil
	}
	var have []uuid.UUID
	if err := tx.Model(&models.CourseEnrollment{}).
		Where("user_id = ? AND course_id IN ?", userID, want).
		Pluck("course_id", &have).Error; err != nil {
		return nil, fmt.Errorf("error loading enrollments: %w", err)
	}
	return missing(want, toSet(have)), nil
}

func missingGroups(tx *gorm.DB, userID models.UserID, want []uuid.UUID) ([]uuid.UUID, error) {
	if len(want) == 0 {
		return []uuid.UUID{}, nil
	}
	var have []uuid.UUID
	if err := tx.Model(&models.GroupMember{}).
		Where("user_id = ? AND group_id IN ?", userID, want).
		Pluck("group_id", &have).Error; err != nil {
		return nil, fmt.Errorf("error loading group memberships: %w", err)
	}
	return missing(want, toSet(have)), nil
}

func toSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// enrollCourses inserts enrollments, skipping pairs that already exist
func enrollCourses(tx *gorm.DB, userID models.UserID, courseIDs []uuid.UUID) (int, error) {
	created := 0
	for _, courseID := range courseIDs {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
			DoNothing: true,
		}).Create(&models.CourseEnrollment{UserID: userID, CourseID: courseID})
		if res.Error != nil {
			return created, fmt.Errorf("error creating enrollment: %w", res.Error)
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

// joinGroups inserts group memberships, skipping pairs that already exist
func joinGroups(tx *gorm.DB, userID models.UserID, groupIDs []uuid.UUID) (int, error) {
	created := 0
	for _, groupID := range groupIDs {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "group_id"}},
			DoNothing: true,
		}).Create(&models.GroupMember{UserID: userID, GroupID: groupID, Role: "MEMBER"})
		if res.Error != nil {
			return created, fmt.Errorf("error creating group membership: %w", res.Error)
		}
		created += int(res.RowsAffected)
	}
	return created, nil
}

func upgradeRole(tx *gorm.DB, userID models.UserID) (bool, error) {
	res := tx.Model(&models.User{}).
		Where("id = ? AND role = ?", userID, models.RoleMemberFree).
		Update("role", models.RoleMemberPremium)
	if res.Error != nil {
		return false, fmt.Errorf("error upgrading role: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
