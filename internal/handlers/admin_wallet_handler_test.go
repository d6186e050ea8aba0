package handlers

import (
	"net/http"
	"testing"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/eksporyuk/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminWalletHandler(t *testing.T) {
	h := newHarness(t)
	f := h.fixture

	affiliate, _ := f.Affiliate()
	w := f.Wallet(affiliate.ID, "100000", "100000")
	adjustPath := "/api/v1/admin/wallets/" + w.ID.String() + "/adjust"

	t.Run("Success - list wallets", func(t *testing.T) {
		resp := h.do(http.MethodGet, "/api/v1/admin/wallets?page=1&page_size=10", nil, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		body := decode(t, resp)
		assert.Len(t, body["wallets"], 1)
	})

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"Error - unknown type", map[string]interface{}{"amount": "1000", "type": "refund", "reference": "adj-1", "description": "x"}, http.StatusBadRequest},
		{"Error - non positive amount", map[string]interface{}{"amount": "0", "type": "credit", "reference": "adj-2", "description": "x"}, http.StatusBadRequest},
		{"Error - overdraft", map[string]interface{}{"amount": "150000", "type": "debit", "reference": "adj-3", "description": "x"}, http.StatusUnprocessableEntity},
		{"Success - debit", map[string]interface{}{"amount": "40000", "type": "debit", "reference": "adj-4", "description": "payout fee"}, http.StatusOK},
		{"Error - reused reference", map[string]interface{}{"amount": "1000", "type": "credit", "reference": "adj-4", "description": "again"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.do(http.MethodPost, adjustPath, tt.body, nil)
			assert.Equal(t, tt.want, resp.Code, resp.Body.String())
		})
	}

	var stored models.Wallet
	require.NoError(t, h.db.First(&stored, "id = ?", w.ID).Error)
	assert.True(t, testutil.Dec("60000").Equal(stored.Balance))
	assert.True(t, testutil.Dec("100000").Equal(stored.TotalEarnings))

	t.Run("Success - ledger listing filtered by type", func(t *testing.T) {
		resp := h.do(http.MethodGet, "/api/v1/admin/wallets/"+w.ID.String()+"/transactions?type=admin_adjustment", nil, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Len(t, decode(t, resp)["transactions"], 1)

		resp = h.do(http.MethodGet, "/api/v1/admin/wallets/"+uuid.NewString()+"/transactions", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
