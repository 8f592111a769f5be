package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/report"
)

var now = time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

func newCalc(t *testing.T) *Calculator {
	c, err := NewCalculator(DefaultOptions)
	require.NoError(t, err)
	return c
}

func TestMustRunConstant(t *testing.T) {
	c := newCalc(t)
	id := jobid.JobID{Namespace: "shop", Parent: "p1", ReportType: jobid.TypeCatalog}
	assert.Equal(t, DefaultOptions.MustRunScore, c.Score(now, id, nil))
	// Even with a perfect history.
	rep := &report.Report{LastSuccess: now.Add(-time.Minute)}
	assert.Equal(t, DefaultOptions.MustRunScore, c.Score(now, id, rep))
}

func TestBounds(t *testing.T) {
	c := newCalc(t)
	cases := []struct {
		name string
		id   jobid.JobID
		rep  *report.Report
	}{
		{
			"never collected undated",
			jobid.JobID{Namespace: "shop", Parent: "p1", EntityID: "e1", ReportType: jobid.TypeProfile},
			nil,
		},
		{
			"ancient range stale success",
			jobid.JobID{
				Namespace: "shop", Parent: "p1", EntityID: "e1",
				ReportType: jobid.TypeMetricsDaily,
				RangeStart: now.Add(-500 * 24 * time.Hour),
				RangeEnd:   now.Add(-499 * 24 * time.Hour),
			},
			&report.Report{LastSuccess: now.Add(-365 * 24 * time.Hour)},
		},
		{
			"fresh range fresh success",
			jobid.JobID{
				Namespace: "shop", Parent: "p1", EntityID: "e1",
				ReportType: jobid.TypeMetricsDaily,
				RangeStart: now.Add(-24 * time.Hour),
				RangeEnd:   now,
			},
			&report.Report{LastSuccess: now.Add(-time.Hour)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := c.Score(now, tc.id, tc.rep)
			assert.GreaterOrEqual(t, s, DefaultOptions.MinScore)
			assert.LessOrEqual(t, s, DefaultOptions.MaxScore)
		})
	}
}

func TestNeverCollectedTops(t *testing.T) {
	c := newCalc(t)
	fresh := jobid.JobID{Namespace: "shop", Parent: "p1", EntityID: "e1", ReportType: jobid.TypeProfile}
	// Undated, never succeeded: both ratios are 1.0, so MaxScore.
	assert.Equal(t, DefaultOptions.MaxScore, c.Score(now, fresh, nil))
}

func TestRecencyDecay(t *testing.T) {
	c := newCalc(t)
	scoreAt := func(age time.Duration) float64 {
		id := jobid.JobID{
			Namespace: "shop", Parent: "p1", EntityID: "e1",
			ReportType: jobid.TypeMetricsDaily,
			RangeStart: now.Add(-age - 24*time.Hour),
			RangeEnd:   now.Add(-age),
		}
		return c.Score(now, id, nil)
	}
	recent := scoreAt(24 * time.Hour)
	old := scoreAt(90 * 24 * time.Hour)
	ancient := scoreAt(400 * 24 * time.Hour)
	floor := scoreAt(900 * 24 * time.Hour)
	assert.Greater(t, recent, old)
	assert.Greater(t, old, ancient)
	// Beyond the horizon the recency floor holds.
	assert.Equal(t, ancient, floor)
}

func TestHistoricalDecay(t *testing.T) {
	c := newCalc(t)
	id := jobid.JobID{Namespace: "shop", Parent: "p1", EntityID: "e1", ReportType: jobid.TypeProfile}
	never := c.Score(now, id, &report.Report{})
	recentSuccess := c.Score(now, id, &report.Report{LastSuccess: now.Add(-24 * time.Hour)})
	staleSuccess := c.Score(now, id, &report.Report{LastSuccess: now.Add(-13 * 24 * time.Hour)})
	beyondWindow := c.Score(now, id, &report.Report{LastSuccess: now.Add(-60 * 24 * time.Hour)})
	assert.Greater(t, never, recentSuccess)
	assert.Greater(t, recentSuccess, staleSuccess)
	assert.Greater(t, staleSuccess, beyondWindow)
	// Floored at zero: historical contributes nothing but recency remains.
	expected := DefaultOptions.MinScore +
		(DefaultOptions.MaxScore-DefaultOptions.MinScore)*DefaultOptions.RecencyWeight
	assert.InDelta(t, expected, beyondWindow, 1e-9)
}

func TestPerParentCache(t *testing.T) {
	c := newCalc(t)
	id := jobid.JobID{Namespace: "shop", Parent: "p1", ReportType: jobid.TypeMediaList}
	first := c.Score(now, id, nil)
	// Same per-parent job with a changed report still returns the cached score.
	second := c.Score(now, id, &report.Report{LastSuccess: now.Add(-time.Hour)})
	assert.Equal(t, first, second)
}
