package commission

import (
	"context"
	"fmt"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CatalogWarnings lists the warnings raised by one catalog row
type CatalogWarnings struct {
	Kind     string     `json:"kind"`
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Config   ConfigView `json:"config"`
	Warnings []Warning  `json:"warnings"`
}

// ConfigView is the JSON form of a Config
type ConfigView struct {
	Type  models.CommissionType `json:"type"`
	Rate  string                `json:"rate"`
	Price string                `json:"price"`
}

func viewOf(cfg Config) ConfigView {
	return ConfigView{Type: cfg.Type, Rate: cfg.Rate.String(), Price: cfg.Price.String()}
}

// Service audits the commission settings stored in the catalog
type Service struct {
	db   *gorm.DB
	opts Options
	log  logrus.FieldLogger
}

// NewService creates a new commission audit service
func NewService(db *gorm.DB, opts Options, log logrus.FieldLogger) *Service {
	return &Service{db: db, opts: opts, log: log}
}

// AuditMemberships returns the warnings of every membership plan that has any
func (s *Service) AuditMemberships(ctx context.Context) ([]CatalogWarnings, error) {
	var memberships []models.Membership
	if err := s.db.WithContext(ctx).Order("name").Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("error loading memberships: %w", err)
	}

	var out []CatalogWarnings
	for i := range memberships {
		m := &memberships[i]
		cfg := ConfigFromMembership(m)
		if warnings := Validate(cfg, s.opts); len(warnings) > 0 {
			out = append(out, CatalogWarnings{Kind: "membership", ID: m.ID, Name: m.Name, Config: viewOf(cfg), Warnings: warnings})
		}
	}

	s.log.WithField("flagged", len(out)).Debug("membership commission audit finished")
	return out, nil
}

// AuditProducts returns the warnings of every product that has any
func (s *Service) AuditProducts(ctx context.Context) ([]CatalogWarnings, error) {
	var products []models.Product
	if err := s.db.WithContext(ctx).Order("name").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("error loading products: %w", err)
	}

	var out []CatalogWarnings
	for i := range products {
		p := &products[i]
		cfg := ConfigFromProduct(p)
		if warnings := Validate(cfg, s.opts); len(warnings) > 0 {
			out = append(out, CatalogWarnings{Kind: "product", ID: p.ID, Name: p.Name, Config: viewOf(cfg), Warnings: warnings})
		}
	}

	s.log.WithField("flagged", len(out)).Debug("product commission audit finished")
	return out, nil
}

// AuditAll returns membership warnings followed by product warnings
func (s *Service) AuditAll(ctx context.Context) ([]CatalogWarnings, error) {
	memberships, err := s.AuditMemberships(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.AuditProducts(ctx)
	if err != nil {
		return nil, err
	}
	return append(memberships, products...), nil
}
