package commission

import (
	"fmt"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/shopspring/decimal"
)

// WarningCode identifies a kind of suspicious commission setting
type WarningCode string

const (
	WarningFlatExceedsHalfPrice  WarningCode = "FLAT_EXCEEDS_HALF_PRICE"
	WarningFlatBelowFloor        WarningCode = "FLAT_BELOW_FLOOR"
	WarningRateMissing           WarningCode = "RATE_MISSING"
	WarningPercentageOutOfRange  WarningCode = "PERCENTAGE_OUT_OF_RANGE"
	WarningUnknownCommissionType WarningCode = "UNKNOWN_COMMISSION_TYPE"
)

// DefaultSanityFloor is the FLAT rate, in rupiah, below which a value looks
// like it was entered in thousands.
var DefaultSanityFloor = decimal.NewFromInt(1000)

// Options tunes Validate
type Options struct {
	SanityFloor decimal.Decimal
}

// Warning describes one suspicious setting. It is advisory only.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Validate inspects a commission setting and returns every warning it
// triggers, or nil when the setting looks sane.
func Validate(cfg Config, opts Options) []Warning {
	floor := opts.SanityFloor
	if floor.IsZero() {
		floor = DefaultSanityFloor
	}

	var warnings []Warning
	if cfg.Rate.IsZero() {
		warnings = append(warnings, Warning{
			Code:    WarningRateMissing,
			Message: "no affiliate commission rate configured",
		})
	}

	switch cfg.Type {
	case models.CommissionFlat:
		half := cfg.Price.Div(decimal.NewFromInt(2))
		if cfg.Price.IsPositive() && cfg.Rate.GreaterThan(half) {
			warnings = append(warnings, Warning{
				Code:    WarningFlatExceedsHalfPrice,
				Message: fmt.Sprintf("flat commission %s is more than half of price %s", cfg.Rate, cfg.Price),
			})
		}
		if cfg.Rate.IsPositive() && cfg.Rate.LessThan(floor) {
			warnings = append(warnings, Warning{
				Code:    WarningFlatBelowFloor,
				Message: fmt.Sprintf("flat commission %s is below the sanity floor %s", cfg.Rate, floor),
			})
		}
	case models.CommissionPercentage:
		if cfg.Rate.IsNegative() || cfg.Rate.GreaterThan(hundred) {
			warnings = append(warnings, Warning{
				Code:    WarningPercentageOutOfRange,
				Message: fmt.Sprintf("percentage commission %s is outside 0-100", cfg.Rate),
			})
		}
	default:
		warnings = append(warnings, Warning{
			Code:    WarningUnknownCommissionType,
			Message: fmt.Sprintf("commission type %q is not FLAT or PERCENTAGE", cfg.Type),
		})
	}

	return warnings
}
