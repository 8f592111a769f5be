// Package score assigns dispatch priorities to gatekept jobs.
package score

import (
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.yarde.network/sweeper/pkg/cachegc"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/report"
)

// Options tunes the scoring policy.
type Options struct {
	MinScore float64
	MaxScore float64
	// MustRunScore is the reserved constant for must-run report types.
	// Outside the [MinScore, MaxScore] band on purpose: must-run jobs
	// sort ahead of everything.
	MustRunScore float64
	// RecencyWeight and HistoryWeight blend the two ratios. Should sum to 1.
	RecencyWeight float64
	HistoryWeight float64
	// RecencyHorizon is the range age at which the recency ratio bottoms out.
	RecencyHorizon time.Duration
	// RecencyFloor is the minimum recency ratio for very old ranges.
	RecencyFloor float64
	// FreshnessWindow is the time since last success at which the
	// historical ratio reaches zero.
	FreshnessWindow time.Duration
	// ParentCacheSize bounds the per-parent score cache.
	ParentCacheSize int
}

// DefaultOptions returns the default scoring policy.
var DefaultOptions = Options{
	MinScore:        100,
	MaxScore:        1000,
	MustRunScore:    9999,
	RecencyWeight:   0.5,
	HistoryWeight:   0.5,
	RecencyHorizon:  180 * 24 * time.Hour,
	RecencyFloor:    0.1,
	FreshnessWindow: 14 * 24 * time.Hour,
	ParentCacheSize: 4096,
}

// Calculator computes job scores for one sweep.
//
// Per-parent job scores are cached for the sweep: the same per-parent
// job is derived once per child, so recomputation would dominate.
// Per-entity scores are unique and never cached.
type Calculator struct {
	Options   Options
	perParent *cachegc.Cache
}

// NewCalculator creates a score calculator for one sweep.
func NewCalculator(opts Options) (*Calculator, error) {
	lru, err := simplelru.NewLRU(opts.ParentCacheSize, nil)
	if err != nil {
		return nil, err
	}
	return &Calculator{
		Options:   opts,
		perParent: cachegc.NewCache(lru, 24*time.Hour),
	}, nil
}

// Score computes the priority of a gatekept job.
// Always within [MinScore, MaxScore], except must-run report types
// which get exactly MustRunScore.
func (c *Calculator) Score(now time.Time, id jobid.JobID, rep *report.Report) float64 {
	if spec, ok := jobid.Lookup(id.ReportType); ok && spec.MustRun {
		return c.Options.MustRunScore
	}
	var key string
	if id.IsPerParent() {
		key = id.String()
		if cached, ok := c.perParent.Get(key); ok {
			return cached.(float64)
		}
	}
	combined := c.recencyRatio(now, id)*c.Options.RecencyWeight +
		c.historicalRatio(now, rep)*c.Options.HistoryWeight
	score := c.normalize(combined)
	if key != "" {
		c.perParent.Add(key, score)
	}
	return score
}

// recencyRatio is 1.0 for undated jobs and decays linearly with the
// age of the target range, floored at RecencyFloor.
func (c *Calculator) recencyRatio(now time.Time, id jobid.JobID) float64 {
	if !id.IsDated() {
		return 1.0
	}
	age := now.Sub(id.RangeEnd)
	if age <= 0 {
		return 1.0
	}
	ratio := 1.0 - float64(age)/float64(c.Options.RecencyHorizon)
	if ratio < c.Options.RecencyFloor {
		return c.Options.RecencyFloor
	}
	return ratio
}

// historicalRatio is 1.0 for never-succeeded jobs and decays to zero
// as the time since the last success approaches the freshness window.
func (c *Calculator) historicalRatio(now time.Time, rep *report.Report) float64 {
	if rep == nil || rep.LastSuccess.IsZero() {
		return 1.0
	}
	elapsed := now.Sub(rep.LastSuccess)
	if elapsed <= 0 {
		return 1.0
	}
	ratio := 1.0 - float64(elapsed)/float64(c.Options.FreshnessWindow)
	if ratio < 0 {
		return 0
	}
	return ratio
}

// normalize maps a [0,1] combined ratio into the [MinScore, MaxScore] band.
func (c *Calculator) normalize(combined float64) float64 {
	if combined < 0 {
		combined = 0
	} else if combined > 1 {
		combined = 1
	}
	return c.Options.MinScore + combined*(c.Options.MaxScore-c.Options.MinScore)
}
