package commission

import (
	"testing"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func codes(warnings []Warning) []WarningCode {
	out := make([]WarningCode, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Code)
	}
	return out
}

func TestCompute(t *testing.T) {
	t.Run("Success - FLAT ignores the transaction amount", func(t *testing.T) {
		cfg := Config{Type: models.CommissionFlat, Rate: dec("500000"), Price: dec("1250000")}

		got, err := Compute(dec("1250000"), cfg)
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("500000")), "got %s", got)

		got, err = Compute(dec("999"), cfg)
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("500000")), "got %s", got)
	})

	t.Run("Success - PERCENTAGE of the amount", func(t *testing.T) {
		cfg := Config{Type: models.CommissionPercentage, Rate: dec("30")}

		got, err := Compute(dec("1000000"), cfg)
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("300000")), "got %s", got)
	})

	t.Run("Success - PERCENTAGE rounds to the cent", func(t *testing.T) {
		cfg := Config{Type: models.CommissionPercentage, Rate: dec("12.5")}

		got, err := Compute(dec("99999"), cfg)
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("12499.88")), "got %s", got)
	})

	t.Run("Success - small FLAT values are returned unchanged", func(t *testing.T) {
		got, err := Compute(dec("1000000"), Config{Type: models.CommissionFlat, Rate: dec("250")})
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("250")))
	})

	t.Run("Failure - unknown type", func(t *testing.T) {
		_, err := Compute(dec("1000"), Config{Type: "TIERED", Rate: dec("10")})
		assert.ErrorIs(t, err, ErrUnknownCommissionType)
	})

	t.Run("Failure - negative inputs", func(t *testing.T) {
		_, err := Compute(dec("-1"), Config{Type: models.CommissionFlat, Rate: dec("10")})
		assert.ErrorIs(t, err, ErrNegativeAmount)
	})
}

func TestValidate(t *testing.T) {
	opts := Options{SanityFloor: dec("1000")}

	tests := []struct {
		name string
		cfg  Config
		want []WarningCode
	}{
		{
			name: "sane flat",
			cfg:  Config{Type: models.CommissionFlat, Rate: dec("200000"), Price: dec("1000000")},
			want: []WarningCode{},
		},
		{
			name: "flat above half price",
			cfg:  Config{Type: models.CommissionFlat, Rate: dec("600000"), Price: dec("1000000")},
			want: []WarningCode{WarningFlatExceedsHalfPrice},
		},
		{
			name: "flat exactly half price",
			cfg:  Config{Type: models.CommissionFlat, Rate: dec("500000"), Price: dec("1000000")},
			want: []WarningCode{},
		},
		{
			name: "flat entered in thousands",
			cfg:  Config{Type: models.CommissionFlat, Rate: dec("250"), Price: dec("1000000")},
			want: []WarningCode{WarningFlatBelowFloor},
		},
		{
			name: "flat missing",
			cfg:  Config{Type: models.CommissionFlat, Price: dec("1000000")},
			want: []WarningCode{WarningRateMissing},
		},
		{
			name: "percentage above 100",
			cfg:  Config{Type: models.CommissionPercentage, Rate: dec("150"), Price: dec("1000000")},
			want: []WarningCode{WarningPercentageOutOfRange},
		},
		{
			name: "unknown type",
			cfg:  Config{Type: "TIERED", Rate: dec("10")},
			want: []WarningCode{WarningUnknownCommissionType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, codes(Validate(tt.cfg, opts)))
		})
	}

	t.Run("default floor applies when unset", func(t *testing.T) {
		got := Validate(Config{Type: models.CommissionFlat, Rate: dec("999"), Price: dec("1000000")}, Options{})
		assert.Equal(t, []WarningCode{WarningFlatBelowFloor}, codes(got))
	})
}
