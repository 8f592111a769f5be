package mariadbtest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubprocess(t *testing.T) {
	if !SupportsSubprocess() {
		t.Skip("No MySQL server program found")
	}
	sub := NewSubprocess(t)
	defer sub.Close(t)
	db, err := sub.DB("")
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	var version string
	require.NoError(t, db.QueryRow("SELECT VERSION();").Scan(&version))
	t.Log("Server version " + version)
}
