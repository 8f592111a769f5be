// Package gate decides whether a job is due for (re)collection at all,
// before any scoring happens.
//
// The gate is a pure predicate over the job's identity and its last
// known outcome record. Rejections are expected steady-state filtering,
// not errors. Denials are remembered in a short-TTL side cache so other
// claim paths reaching the same job ID within the sweep skip the
// durable report lookup.
package gate

import (
	"time"

	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/cachegc"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/report"
)

// Options tunes the gatekeeping policy.
type Options struct {
	// InProgressGrace is how recent a progress heartbeat must be for an
	// earlier attempt to still count as running.
	InProgressGrace time.Duration
	// DefaultRefresh applies to existence report types without their own interval.
	DefaultRefresh time.Duration
	// LifetimeRefresh applies to undated cumulative metrics regardless of age.
	LifetimeRefresh time.Duration
}

// DefaultOptions returns the default gate policy.
var DefaultOptions = Options{
	InProgressGrace: 10 * time.Minute,
	DefaultRefresh:  24 * time.Hour,
	LifetimeRefresh: 6 * time.Hour,
}

// Refresh brackets for dated metric ranges, by range age.
// Fresh ranges are re-checked every few hours, ranges older than
// 90 days roughly weekly.
var datedBrackets = []struct {
	MaxAge  time.Duration
	Refresh time.Duration
}{
	{2 * 24 * time.Hour, 3 * time.Hour},
	{7 * 24 * time.Hour, 12 * time.Hour},
	{30 * 24 * time.Hour, 48 * time.Hour},
	{90 * 24 * time.Hour, 96 * time.Hour},
}

// weeklyRefresh applies beyond the last dated bracket.
const weeklyRefresh = 168 * time.Hour

// Gate filters jobs that must not be recollected yet.
type Gate struct {
	Log     *zap.Logger
	Options Options
	// NotYet caches job ID to next-eligible-time for denied jobs. Optional.
	NotYet *cachegc.Cache
}

// DeniedRecently reports whether a recent gate run already decided
// "not yet" for this job ID. Callers use it to skip the durable
// report lookup entirely.
func (g *Gate) DeniedRecently(now time.Time, id jobid.JobID) bool {
	if g.NotYet == nil {
		return false
	}
	next, ok := g.NotYet.Get(id.String())
	if !ok {
		return false
	}
	return now.Before(next.(time.Time))
}

// ShallPass decides whether the job is due.
// A denial records the expected next eligible time in the side cache.
func (g *Gate) ShallPass(now time.Time, id jobid.JobID, rep *report.Report) bool {
	spec, ok := jobid.Lookup(id.ReportType)
	if !ok {
		// Unresolvable report type mapping: skip the item, never crash the sweep.
		g.Log.Error("Unknown report type, skipping job",
			zap.String("job.report_type", string(id.ReportType)))
		return false
	}
	if spec.MustRun {
		return true
	}
	if rep == nil {
		// Never collected before.
		return true
	}
	// An attempt without prior success is still running: avoid duplicate work.
	if rep.LastSuccess.IsZero() && !rep.LastProgress.IsZero() {
		if now.Sub(rep.LastProgress) < g.Options.InProgressGrace {
			g.deny(id, rep.LastProgress.Add(g.Options.InProgressGrace))
			return false
		}
	}
	if rep.LastSuccess.IsZero() {
		return true
	}
	interval := g.refreshInterval(now, id, spec)
	if now.Sub(rep.LastSuccess) > interval {
		return true
	}
	g.deny(id, rep.LastSuccess.Add(interval))
	return false
}

// refreshInterval returns how long after the last success the job
// becomes due again.
func (g *Gate) refreshInterval(now time.Time, id jobid.JobID, spec jobid.Spec) time.Duration {
	switch spec.Class {
	case jobid.ClassDatedMetric:
		if !id.IsDated() {
			return g.Options.LifetimeRefresh
		}
		age := now.Sub(id.RangeEnd)
		for _, bracket := range datedBrackets {
			if age < bracket.MaxAge {
				return bracket.Refresh
			}
		}
		return weeklyRefresh
	case jobid.ClassLifetime:
		return g.Options.LifetimeRefresh
	default:
		if spec.Refresh > 0 {
			return spec.Refresh
		}
		return g.Options.DefaultRefresh
	}
}

func (g *Gate) deny(id jobid.JobID, nextEligible time.Time) {
	if g.NotYet != nil {
		g.NotYet.Add(id.String(), nextEligible)
	}
}
