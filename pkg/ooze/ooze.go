// Package ooze releases queued jobs to the worker fleet at an
// adaptive rate.
//
// The oozer pops jobs off the priority queue's merge stream and
// submits them to the fan-out system, pacing itself against a target
// rate it re-derives every review interval from the sweep's pulse.
// The controller is one-sided on purpose: user-level throttling backs
// the rate off proportionally and fast, while a quiet pulse only
// nudges it back up slowly. Aggregate pulse health is also the only
// sanctioned reason to abort dispatch early.
package ooze

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/outcome"
	"go.yarde.network/sweeper/pkg/pulse"
	"go.yarde.network/sweeper/pkg/ratelimit"
	"go.yarde.network/sweeper/pkg/shardq"
)

// Options stores dispatch tuning parameters.
type Options struct {
	ReviewInterval time.Duration // rate review period
	RateWindow     uint          // pacing window in seconds
	InitialRate    float64       // jobs per second at sweep start
	MinRate        float64
	MaxRate        float64
	LearningRate   float64 // proportional back-off gain
	RecoveryRate   float64 // fractional nudge up per quiet review
	RecoverBelow   float64 // error level treated as "quiet"

	// Abort thresholds, consulted only after MinOozed jobs went out.
	MinOozed        int64
	SuccessFloor    float64
	ThrottleCeiling float64

	// OozeBudget bounds the whole dispatch phase.
	OozeBudget time.Duration
	// CounterFlush batches in-progress gauge increments.
	CounterFlush int64
}

// DefaultOptions returns the default dispatch options.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultOptions = Options{
	ReviewInterval:  10 * time.Second,
	RateWindow:      10,
	InitialRate:     10,
	MinRate:         0.5,
	MaxRate:         100,
	LearningRate:    1.0,
	RecoveryRate:    0.05,
	RecoverBelow:    0.01,
	MinOozed:        50,
	SuccessFloor:    0.10,
	ThrottleCeiling: 0.40,
	OozeBudget:      30 * time.Minute,
	CounterFlush:    16,
}

// Source is the job stream the oozer drains, typically a shardq.Reader.
type Source interface {
	Next(ctx context.Context) (shardq.Item, bool, error)
}

// Submitter hands one job to the worker fan-out. Must not block.
type Submitter interface {
	Submit(ctx context.Context, item shardq.Item) error
}

// PulseSource provides the live sweep telemetry.
type PulseSource interface {
	GetPulse(ctx context.Context, at time.Time) (*pulse.Pulse, error)
	AddInProgress(ctx context.Context, delta int64) error
}

// Oozer dispatches one sweep's jobs.
type Oozer struct {
	Source    Source
	Submitter Submitter
	Pulse     PulseSource
	Log       *zap.Logger
	Options   Options
	Metrics   *OozerMetrics
}

// Result describes how a dispatch phase ended.
type Result struct {
	Oozed int64
	// Aborted is set when pulse thresholds cut dispatch short.
	Aborted bool
}

// Run drains the source until the queue is exhausted, the ooze budget
// runs out, or the pulse turns bad. The returned count includes every
// submitted job. Pending in-progress counters are flushed on any exit.
func (o *Oozer) Run(ctx context.Context) (res Result, err error) {
	deadline := time.Now().Add(o.Options.OozeBudget)
	rate := clampRate(o.Options.InitialRate, o.Options)
	limiter := ratelimit.NewRateLimit(float32(rate), o.Options.RateWindow)
	lastReview := time.Now()
	var pendingInProgress int64
	defer func() {
		o.flushCounters(&pendingInProgress)
	}()
	for {
		now := time.Now()
		if now.After(deadline) {
			o.Log.Info("Ooze budget exhausted", zap.Int64("oozed", res.Oozed))
			return res, nil
		}
		if now.Sub(lastReview) >= o.Options.ReviewInterval {
			lastReview = now
			o.flushCounters(&pendingInProgress)
			p, pulseErr := o.Pulse.GetPulse(ctx, now)
			if pulseErr != nil {
				// A missed review is fine; keep the current rate.
				o.Log.Warn("Failed to read pulse, skipping review", zap.Error(pulseErr))
			} else {
				if res.Oozed >= o.Options.MinOozed && o.shouldAbort(p) {
					o.Log.Warn("Aborting dispatch on bad pulse",
						zap.Float64("pulse.success_ratio", p.SuccessRatio()),
						zap.Float64("pulse.user_throttle_ratio", p.UserThrottleRatio()),
						zap.Int64("oozed", res.Oozed))
					res.Aborted = true
					return res, nil
				}
				rate = CalculateRate(rate, p, o.Options)
				limiter.SetTarget(float32(rate))
				o.Log.Debug("Reviewed dispatch rate",
					zap.Float64("ooze.rate", rate),
					zap.Int64("oozed", res.Oozed))
			}
		}
		item, ok, nextErr := o.Source.Next(ctx)
		if nextErr != nil {
			return res, nextErr
		}
		if !ok {
			o.Log.Info("Queue exhausted", zap.Int64("oozed", res.Oozed))
			return res, nil
		}
		if submitErr := o.Submitter.Submit(ctx, item); submitErr != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// Per-item failure: skip and continue.
			o.Log.Error("Failed to submit job, skipping",
				zap.String("job.id", item.ID.String()), zap.Error(submitErr))
			continue
		}
		res.Oozed++
		pendingInProgress++
		o.Metrics.dispatched.Add(ctx, 1)
		if pendingInProgress >= o.Options.CounterFlush {
			o.flushCounters(&pendingInProgress)
		}
		if sleep := limiter.Count(time.Now().Unix(), 1); sleep > 0 {
			if sleepErr := sleepCtx(ctx, sleep); sleepErr != nil {
				return res, sleepErr
			}
		}
	}
}

// shouldAbort applies the pulse abort thresholds.
func (o *Oozer) shouldAbort(p *pulse.Pulse) bool {
	if p.RecentTotal == 0 {
		// No telemetry yet: workers may simply lag behind.
		return false
	}
	return p.SuccessRatio() < o.Options.SuccessFloor ||
		p.UserThrottleRatio() > o.Options.ThrottleCeiling
}

// flushCounters writes out batched in-progress increments.
func (o *Oozer) flushCounters(pending *int64) {
	if *pending == 0 {
		return
	}
	// Detached context: flush must happen even when the run context died.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Pulse.AddInProgress(ctx, *pending); err != nil {
		o.Log.Error("Failed to flush dispatch counters", zap.Error(err))
		return
	}
	*pending = 0
}

// CalculateRate derives the next dispatch rate from the pulse's very
// recent window. The error signal uses only the user-throttling
// bucket; other throttle kinds do not slow the controller.
func CalculateRate(old float64, p *pulse.Pulse, opts Options) float64 {
	errSignal := float64(p.Recent[outcome.UserThrottle]) / float64(p.RecentTotal+1)
	var next float64
	if errSignal > opts.RecoverBelow {
		next = old + (-errSignal * opts.LearningRate * old)
	} else {
		next = old + opts.RecoveryRate*old
	}
	return clampRate(next, opts)
}

func clampRate(rate float64, opts Options) float64 {
	if rate < opts.MinRate {
		return opts.MinRate
	}
	if rate > opts.MaxRate {
		return opts.MaxRate
	}
	return rate
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// OozerMetrics counts dispatch activity.
type OozerMetrics struct {
	dispatched metric.Int64Counter
}

// NewOozerMetrics registers the oozer counters on a meter.
func NewOozerMetrics(m metric.Meter) (*OozerMetrics, error) {
	metrics := new(OozerMetrics)
	var err error
	if metrics.dispatched, err = m.NewInt64Counter("sweeper_ooze_dispatched"); err != nil {
		return nil, err
	}
	return metrics, nil
}
