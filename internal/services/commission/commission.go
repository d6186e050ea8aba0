// Package commission computes affiliate commissions and flags suspicious
// commission settings in the catalog. It never rewrites a configured rate.
package commission

import (
	"errors"
	"fmt"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCommissionType is returned for a type other than FLAT or PERCENTAGE
	ErrUnknownCommissionType = errors.New("unknown commission type")
	// ErrNegativeAmount is returned when a transaction amount or rate is below zero
	ErrNegativeAmount = errors.New("commission inputs must not be negative")
)

var hundred = decimal.NewFromInt(100)

// Config is the commission setting of a membership or product
type Config struct {
	Type  models.CommissionType
	Rate  decimal.Decimal
	Price decimal.Decimal
}

// ConfigFromMembership reads the commission setting of a membership plan
func ConfigFromMembership(m *models.Membership) Config {
	return Config{Type: m.CommissionType, Rate: m.AffiliateCommissionRate, Price: m.Price}
}

// ConfigFromProduct reads the commission setting of a product
func ConfigFromProduct(p *models.Product) Config {
	return Config{Type: p.CommissionType, Rate: p.AffiliateCommissionRate, Price: p.Price}
}

// Compute returns the commission payable on a sale of amount. A FLAT rate is
// already a rupiah value and ignores amount; a PERCENTAGE rate yields
// amount*rate/100 rounded to the cent.
func Compute(amount decimal.Decimal, cfg Config) (decimal.Decimal, error) {
	if amount.IsNegative() || cfg.Rate.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}

	switch cfg.Type {
	case models.CommissionFlat:
		return cfg.Rate, nil
	case models.CommissionPercentage:
		return amount.Mul(cfg.Rate).Div(hundred).Round(2), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCommissionType, cfg.Type)
	}
}
