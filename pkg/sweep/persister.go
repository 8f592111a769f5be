package sweep

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/gate"
	"go.yarde.network/sweeper/pkg/report"
	"go.yarde.network/sweeper/pkg/score"
	"go.yarde.network/sweeper/pkg/shardq"
)

// Persister runs expectations through the gate and the score
// calculator and writes the survivors into the queue.
//
// Per-item failures (a store hiccup on one report lookup) are logged,
// counted, and skipped; they never abort the surrounding build.
type Persister struct {
	Reports report.Store
	Gate    *gate.Gate
	Score   *score.Calculator
	Writer  *shardq.Writer
	Log     *zap.Logger
	Metrics *PersisterMetrics
}

// Persist schedules one expectation, or drops it at the gate.
func (p *Persister) Persist(ctx context.Context, exp Expectation) error {
	now := time.Now()
	if p.Gate.DeniedRecently(now, exp.ID) {
		p.Metrics.deniedCached.Add(ctx, 1)
		return nil
	}
	rep, err := p.Reports.GetReport(ctx, exp.ID.String())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.Log.Error("Failed to read job report, skipping item",
			zap.String("job.id", exp.ID.String()), zap.Error(err))
		p.Metrics.reportErrors.Add(ctx, 1)
		return nil
	}
	candidate := Candidate{Expectation: exp, Report: rep}
	if !p.Gate.ShallPass(now, candidate.ID, candidate.Report) {
		p.Metrics.gated.Add(ctx, 1)
		return nil
	}
	scored := ScoredCandidate{
		Candidate: candidate,
		Score:     p.Score.Score(now, candidate.ID, candidate.Report),
	}
	if err := p.Writer.Add(ctx, shardq.Item{
		ID:       scored.ID,
		Score:    scored.Score,
		SideData: scored.SideData,
	}); err != nil {
		return err
	}
	p.Metrics.queued.Add(ctx, 1)
	return nil
}

// PersisterMetrics counts gate and persist activity.
type PersisterMetrics struct {
	deniedCached metric.Int64Counter
	gated        metric.Int64Counter
	queued       metric.Int64Counter
	reportErrors metric.Int64Counter
}

// NewPersisterMetrics registers the persister counters on a meter.
func NewPersisterMetrics(m metric.Meter) (*PersisterMetrics, error) {
	metrics := new(PersisterMetrics)
	var err error
	if metrics.deniedCached, err = m.NewInt64Counter("sweeper_persist_denied_cached"); err != nil {
		return nil, err
	}
	if metrics.gated, err = m.NewInt64Counter("sweeper_persist_gated"); err != nil {
		return nil, err
	}
	if metrics.queued, err = m.NewInt64Counter("sweeper_persist_queued"); err != nil {
		return nil, err
	}
	if metrics.reportErrors, err = m.NewInt64Counter("sweeper_persist_report_errors"); err != nil {
		return nil, err
	}
	return metrics, nil
}
