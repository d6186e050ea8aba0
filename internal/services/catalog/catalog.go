// Package catalog keeps catalog rows presentable: every membership, course,
// group and product gets a URL slug unique within its table.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/utils"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type sluggedTable struct {
	name   string
	model  interface{}
	source string
}

var sluggedTables = []sluggedTable{
	{name: "memberships", model: &models.Membership{}, source: "name"},
	{name: "courses", model: &models.Course{}, source: "title"},
	{name: "groups", model: &models.Group{}, source: "name"},
	{name: "products", model: &models.Product{}, source: "name"},
}

// SlugChange is one slug assigned (or, in a dry run, proposed)
type SlugChange struct {
	Table  string    `json:"table"`
	ID     uuid.UUID `json:"id"`
	Source string    `json:"source"`
	Slug   string    `json:"slug"`
}

// SlugReport summarises a slug backfill
type SlugReport struct {
	DryRun  bool           `json:"dry_run"`
	Updated map[string]int `json:"updated"`
	Changes []SlugChange   `json:"changes"`
}

// Service maintains catalog rows
type Service struct {
	db    *gorm.DB
	audit *utils.AuditLogger
	log   logrus.FieldLogger
}

// NewService creates a new catalog service
func NewService(db *gorm.DB, audit *utils.AuditLogger, log logrus.FieldLogger) *Service {
	return &Service{db: db, audit: audit, log: log}
}

type slugRow struct {
	ID     uuid.UUID
	Source string
	Slug   string
}

// BackfillSlugs assigns a slug to every catalog row that has none. A
// collision gets a numeric suffix.
func (s *Service) BackfillSlugs(ctx context.Context, dryRun bool) (*SlugReport, error) {
	report := &SlugReport{DryRun: dryRun, Updated: make(map[string]int)}

	for _, t := range sluggedTables {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			changes, err := backfillTable(tx, t, dryRun)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				return nil
			}
			report.Changes = append(report.Changes, changes...)
			report.Updated[t.name] = len(changes)
			if dryRun {
				return nil
			}
			return s.audit.WithTx(tx).LogEvent(ctx, utils.AuditEntry{
				EventType:   utils.AuditEventSlugBackfill,
				Severity:    utils.AuditSeverityInfo,
				Description: fmt.Sprintf("assigned %d slugs in %s", len(changes), t.name),
				Details:     map[string]interface{}{"table": t.name, "count": len(changes)},
			})
		})
		if err != nil {
			return nil, fmt.Errorf("error backfilling %s slugs: %w", t.name, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"changes": len(report.Changes),
		"dry_run": dryRun,
	}).Info("slug backfill finished")
	return report, nil
}

func backfillTable(tx *gorm.DB, t sluggedTable, dryRun bool) ([]SlugChange, error) {
	var rows []slugRow
	if err := tx.Model(t.model).
		Select(fmt.Sprintf("id, %s AS source, slug", t.source)).
		Order("created_at, id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	taken := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if r.Slug != "" {
			taken[r.Slug] = struct{}{}
		}
	}

	var changes []SlugChange
	for _, r := range rows {
		if strings.TrimSpace(r.Slug) != "" {
			continue
		}
		next := uniqueSlug(baseSlug(t.name, r), taken)
		taken[next] = struct{}{}

		if !dryRun {
			if err := tx.Model(t.model).Where("id = ?", r.ID).Update("slug", next).Error; err != nil {
				return nil, err
			}
		}
		changes = append(changes, SlugChange{Table: t.name, ID: r.ID, Source: r.Source, Slug: next})
	}
	return changes, nil
}

func baseSlug(table string, r slugRow) string {
	if s := slug.Make(r.Source); s != "" {
		return s
	}
	return fmt.Sprintf("%s-%s", strings.TrimSuffix(table, "s"), r.ID.String()[:8])
}

func uniqueSlug(base string, taken map[string]struct{}) string {
	if _, ok := taken[base]; !ok {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
