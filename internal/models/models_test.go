package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		allowed  bool
	}{
		{TransactionPending, TransactionSuccess, true},
		{TransactionPending, TransactionFailed, true},
		{TransactionPending, TransactionExpired, true},
		{TransactionSuccess, TransactionSuccess, true},
		{TransactionSuccess, TransactionPending, false},
		{TransactionSuccess, TransactionFailed, false},
		{TransactionFailed, TransactionSuccess, false},
		{TransactionExpired, TransactionPending, false},
		{TransactionPending, TransactionStatus("REFUNDED"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestEffectiveMembershipID(t *testing.T) {
	direct := uuid.New()
	fromMeta := uuid.New()

	t.Run("Column wins over metadata", func(t *testing.T) {
		meta, _ := json.Marshal(map[string]string{"membershipId": fromMeta.String()})
		tx := &Transaction{MembershipID: &direct, Metadata: meta}
		assert.Equal(t, direct, *tx.EffectiveMembershipID())
	})

	t.Run("Falls back to metadata", func(t *testing.T) {
		meta, _ := json.Marshal(map[string]string{"membershipId": fromMeta.String()})
		tx := &Transaction{Metadata: meta}
		assert.Equal(t, fromMeta, *tx.EffectiveMembershipID())
	})

	t.Run("Malformed metadata yields nil", func(t *testing.T) {
		tx := &Transaction{Metadata: []byte(`{"membershipId":"not-a-uuid"}`)}
		assert.Nil(t, tx.EffectiveMembershipID())
		assert.Nil(t, (&Transaction{}).EffectiveMembershipID())
	})
}

func TestMembershipDurationEndDate(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	end := DurationThreeMonths.EndDate(start)
	require.NotNil(t, end)
	assert.Equal(t, time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC), *end)

	assert.Nil(t, DurationLifetime.EndDate(start))

	_, ok := MembershipDuration("FOREVER").Months()
	assert.False(t, ok)
}

func TestUserMembershipIsCurrent(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&UserMembership{Status: UserMembershipActive}).IsCurrent(now))
	assert.True(t, (&UserMembership{Status: UserMembershipActive, EndDate: &future}).IsCurrent(now))
	assert.False(t, (&UserMembership{Status: UserMembershipActive, EndDate: &past}).IsCurrent(now))
	assert.False(t, (&UserMembership{Status: UserMembershipExpired}).IsCurrent(now))
}

func TestIdentifierText(t *testing.T) {
	id := NewUserID()

	raw, err := json.Marshal(struct {
		ID UserID `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(raw))

	parsed, err := ParseUserID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseAffiliateProfileID("nope")
	assert.Error(t, err)
}

func TestCommissionReference(t *testing.T) {
	id := uuid.MustParse("2f1b6a3e-8a4f-4c1e-9d61-3c4a5b6c7d8e")
	assert.Equal(t, "commission:2f1b6a3e-8a4f-4c1e-9d61-3c4a5b6c7d8e", CommissionReference(id))
}
