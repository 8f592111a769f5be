package ooze

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/pulse"
)

// WaiterOptions stores completion polling parameters.
type WaiterOptions struct {
	PollInterval time.Duration
	// CompletionFraction of oozed jobs that counts as "done enough".
	CompletionFraction float64
	// WaitBudget bounds the whole wait phase.
	WaitBudget time.Duration
}

// DefaultWaiterOptions returns the default waiter options.
var DefaultWaiterOptions = WaiterOptions{
	PollInterval:       15 * time.Second,
	CompletionFraction: 0.90,
	WaitBudget:         20 * time.Minute,
}

// Waiter observes the pulse after dispatch stops.
// It never retries or resubmits jobs; it only watches the lifetime
// completion counter until enough of the oozed jobs finished or the
// wall-clock budget runs out.
type Waiter struct {
	Pulse   PulseSource
	Log     *zap.Logger
	Options WaiterOptions
}

// Wait blocks until the completion fraction is reached or the budget
// elapses. Returns the last observed pulse for the sweep loop's
// cooldown computation.
func (w *Waiter) Wait(ctx context.Context, oozed int64) (*pulse.Pulse, error) {
	deadline := time.Now().Add(w.Options.WaitBudget)
	// Round up so small sweeps still wait for at least one completion.
	want := int64(math.Ceil(w.Options.CompletionFraction * float64(oozed)))
	var last *pulse.Pulse
	for {
		p, err := w.getPulse(ctx)
		if err != nil {
			return last, err
		}
		last = p
		if p.DoneTotal >= want {
			w.Log.Info("Completion fraction reached",
				zap.Int64("pulse.done_total", p.DoneTotal),
				zap.Int64("oozed", oozed))
			return last, nil
		}
		if time.Now().After(deadline) {
			w.Log.Warn("Wait budget exhausted",
				zap.Int64("pulse.done_total", p.DoneTotal),
				zap.Int64("oozed", oozed))
			return last, nil
		}
		if err := sleepCtx(ctx, w.Options.PollInterval); err != nil {
			return last, err
		}
	}
}

// getPulse reads the pulse, retrying transient store errors briefly.
func (w *Waiter) getPulse(ctx context.Context) (*pulse.Pulse, error) {
	var p *pulse.Pulse
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), 4), ctx)
	err := backoff.Retry(func() error {
		var err error
		p, err = w.Pulse.GetPulse(ctx, time.Now())
		if err != nil {
			w.Log.Warn("Failed to read pulse, retrying", zap.Error(err))
		}
		return err
	}, policy)
	return p, err
}
