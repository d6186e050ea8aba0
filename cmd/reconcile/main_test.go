package main

import (
	"testing"

	"github.com/eksporyuk/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"wallets", "entitlements", "run", "nightly", "transactions", "orphans", "invariants", "commissions", "slugs", "expire", "export"} {
		assert.True(t, names[want], want)
	}

	assert.NotNil(t, walletsCmd.Flags().Lookup("apply"))
	assert.NotNil(t, orphansCmd.Flags().Lookup("dry-run"))
	assert.Nil(t, invariantsCmd.Flags().Lookup("dry-run"))
}

func TestParseUserIDs(t *testing.T) {
	id := models.NewUserID()

	ids, err := parseUserIDs([]string{id.String()})
	require.NoError(t, err)
	assert.Equal(t, []models.UserID{id}, ids)

	_, err = parseUserIDs([]string{"nope"})
	assert.Error(t, err)
}
