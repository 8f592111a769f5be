package report

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yarde.network/sweeper/pkg/mariadbtest"
	"go.yarde.network/sweeper/pkg/outcome"
)

func TestSQLStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping MariaDB test in short mode")
	}
	db := predefinedDB
	if db == nil {
		backend, backendDB := mariadbtest.DefaultSqlx(t)
		defer backend.Close(t)
		db = backendDB
	}
	store := &SQLStore{
		DB:        db,
		TableName: "job_reports_1",
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.CreateTable(ctx))
	t.Log("Created table", store.TableName)

	rep, err := store.GetReport(ctx, "shop:p1:::catalog:::")
	require.NoError(t, err)
	assert.Nil(t, rep)

	t1 := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordOutcomes(ctx, []Outcome{
		{JobID: "j1", Code: outcome.TooMuchData, Message: "payload over limit", Time: t1},
		{JobID: "j1", Code: outcome.TooMuchData, Message: "payload over limit", Time: t1.Add(time.Hour)},
		{JobID: "j2", Code: outcome.Success, Time: t1},
	}))
	rep, err = store.GetReport(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, outcome.TooMuchData, rep.FailureBucket)
	assert.Equal(t, "payload over limit", rep.FailureMessage)
	assert.Equal(t, uint32(2), rep.ConsecFailures)
	assert.True(t, rep.LastSuccess.IsZero())

	rep, err = store.GetReport(ctx, "j2")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.False(t, rep.LastSuccess.IsZero())
	assert.Equal(t, uint32(0), rep.ConsecFailures)

	// Success after failures resets the streak.
	require.NoError(t, store.RecordOutcomes(ctx, []Outcome{
		{JobID: "j1", Code: outcome.Success, Time: t1.Add(2 * time.Hour)},
	}))
	rep, err = store.GetReport(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), rep.ConsecFailures)
	assert.False(t, rep.LastSuccess.IsZero())
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "short", truncateMessage("short"))
	long := strings.Repeat("x", maxMessageLen+10)
	assert.Len(t, truncateMessage(long), maxMessageLen)
	// A multi-byte rune straddling the limit is dropped whole.
	straddled := strings.Repeat("x", maxMessageLen-1) + "é"
	got := truncateMessage(straddled)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxMessageLen-1)
}
