// Package sweep orchestrates one full crawl scheduling cycle.
//
// A sweep builds the expectation universe from the entity inventory,
// gatekeeps and scores each expectation, persists the survivors into
// the sharded priority queue, oozes them out to the worker fleet, and
// then waits on the pulse until enough of them finished. The final
// pulse decides the cooldown before the next sweep.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/simplelru"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/breakdown"
	"go.yarde.network/sweeper/pkg/cachegc"
	"go.yarde.network/sweeper/pkg/fanout"
	"go.yarde.network/sweeper/pkg/gate"
	"go.yarde.network/sweeper/pkg/ooze"
	"go.yarde.network/sweeper/pkg/pulse"
	"go.yarde.network/sweeper/pkg/report"
	"go.yarde.network/sweeper/pkg/score"
	"go.yarde.network/sweeper/pkg/shardq"
	"go.yarde.network/sweeper/pkg/topology"
	"go.yarde.network/sweeper/pkg/topology/redisshard"
)

// LoopOptions bundles the tuning of every sweep phase.
type LoopOptions struct {
	Queue     shardq.Options
	Gate      gate.Options
	Score     score.Options
	Builder   BuilderOptions
	Breakdown breakdown.Options
	Ooze      ooze.Options
	Wait      ooze.WaiterOptions

	// NotYetCacheSize and NotYetCacheTTL size the gate's denial cache.
	NotYetCacheSize int
	NotYetCacheTTL  time.Duration
	// BaseCooldown scales with the final throttle ratio into the
	// inter-sweep delay.
	BaseCooldown time.Duration
	// SeedCooldown applies instead when fewer than SeedThreshold jobs
	// ran, so small seed sweeps iterate quickly.
	SeedCooldown  time.Duration
	SeedThreshold int64
	// FlagTTL bounds the sweep-running marker.
	FlagTTL time.Duration
	// PulseBucketTTL expires raw pulse minute buckets.
	PulseBucketTTL time.Duration
}

// DefaultLoopOptions returns the default sweep loop options.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultLoopOptions = LoopOptions{
	Queue:           shardq.DefaultOptions,
	Gate:            gate.DefaultOptions,
	Score:           score.DefaultOptions,
	Builder:         DefaultBuilderOptions,
	Breakdown:       breakdown.DefaultOptions,
	Ooze:            ooze.DefaultOptions,
	Wait:            ooze.DefaultWaiterOptions,
	NotYetCacheSize: 65536,
	NotYetCacheTTL:  time.Hour,
	BaseCooldown:    30 * time.Minute,
	SeedCooldown:    30 * time.Second,
	SeedThreshold:   300,
	FlagTTL:         2 * time.Hour,
	PulseBucketTTL:  time.Hour,
}

// Loop runs sweeps back to back.
type Loop struct {
	Topology  *topology.Config
	Shards    redisshard.Factory
	Redis     *redis.Client
	Reports   report.Store
	Inventory Inventory
	Submit    fanout.Submitter
	Log       *zap.Logger
	Meter     metric.Meter
	Options   LoopOptions
}

// newSweepID derives a fresh sweep id from the start time.
func newSweepID(at time.Time) string {
	return at.UTC().Format("20060102-150405")
}

// Run executes sweeps forever, sleeping the computed cooldown between
// them. A failed sweep is logged and retried after the seed cooldown;
// the next sweep is the recovery mechanism, not in-process retries.
func (l *Loop) Run(ctx context.Context) error {
	for {
		cooldown, err := l.RunSweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.Log.Error("Sweep failed", zap.Error(err))
			cooldown = l.Options.SeedCooldown
		}
		l.Log.Info("Cooling down", zap.Duration("cooldown", cooldown))
		if err := sleepCtx(ctx, cooldown); err != nil {
			return err
		}
	}
}

// RunOnce executes exactly one sweep and sleeps its cooldown, for the
// container-restart deployment mode where an external supervisor
// restarts the process per cycle.
func (l *Loop) RunOnce(ctx context.Context) error {
	cooldown, err := l.RunSweep(ctx)
	if err != nil {
		return err
	}
	l.Log.Info("Cooling down before exit", zap.Duration("cooldown", cooldown))
	return sleepCtx(ctx, cooldown)
}

// RunSweep executes one full cycle and returns the cooldown to apply
// before the next sweep starts.
func (l *Loop) RunSweep(ctx context.Context) (time.Duration, error) {
	sweepID := newSweepID(time.Now())
	log := l.Log.With(zap.String("sweep", sweepID))
	log.Info("Starting sweep")

	flag := &Flag{Redis: l.Redis}
	if err := flag.Set(ctx, sweepID, l.Options.FlagTTL); err != nil {
		return 0, fmt.Errorf("failed to set sweep flag: %w", err)
	}
	defer func() {
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := flag.Clear(clearCtx, sweepID); err != nil {
			log.Error("Failed to clear sweep flag", zap.Error(err))
		}
	}()

	queue := &shardq.Queue{
		Sweep:    sweepID,
		Topology: l.Topology,
		Shards:   l.Shards,
		Options:  l.Options.Queue,
	}
	tracker := &pulse.Tracker{
		Redis:     l.Redis,
		Sweep:     sweepID,
		BucketTTL: l.Options.PulseBucketTTL,
	}

	count, err := l.buildPhase(ctx, log, queue)
	if err != nil {
		return 0, err
	}
	log.Info("Sweep built", zap.Int64("queued", count))

	res, err := l.dispatchPhase(ctx, log, queue, tracker)
	if err != nil {
		return 0, err
	}

	waiter := &ooze.Waiter{
		Pulse:   tracker,
		Log:     log,
		Options: l.Options.Wait,
	}
	finalPulse, err := waiter.Wait(ctx, res.Oozed)
	if err != nil {
		return 0, err
	}

	// Leftovers of an aborted dispatch are not carried over; the next
	// sweep re-derives scores fresh.
	if err := queue.Drop(ctx); err != nil {
		log.Error("Failed to drop sweep queue", zap.Error(err))
	}

	cooldown := l.cooldown(res, finalPulse)
	log.Info("Sweep complete",
		zap.Int64("oozed", res.Oozed),
		zap.Bool("aborted", res.Aborted),
		zap.Duration("cooldown", cooldown))
	return cooldown, nil
}

// buildPhase derives, gates, scores, and persists the expectation
// universe, returning the queued job count.
func (l *Loop) buildPhase(ctx context.Context, log *zap.Logger, queue *shardq.Queue) (int64, error) {
	writerMetrics, err := shardq.NewWriterMetrics(l.Meter)
	if err != nil {
		return 0, err
	}
	writer, err := shardq.NewWriter(queue, log, writerMetrics)
	if err != nil {
		return 0, err
	}
	notYet, err := simplelru.NewLRU(l.Options.NotYetCacheSize, nil)
	if err != nil {
		return 0, err
	}
	gatekeeper := &gate.Gate{
		Log:     log,
		Options: l.Options.Gate,
		NotYet:  cachegc.NewCache(notYet, l.Options.NotYetCacheTTL),
	}
	calculator, err := score.NewCalculator(l.Options.Score)
	if err != nil {
		return 0, err
	}
	persisterMetrics, err := NewPersisterMetrics(l.Meter)
	if err != nil {
		return 0, err
	}
	persister := &Persister{
		Reports: l.Reports,
		Gate:    gatekeeper,
		Score:   calculator,
		Writer:  writer,
		Log:     log,
		Metrics: persisterMetrics,
	}
	builder := &Builder{
		Inventory: l.Inventory,
		Splitter: &breakdown.Splitter{
			Reports:  l.Reports,
			Entities: l.Inventory,
			Log:      log,
			Options:  l.Options.Breakdown,
		},
		Log:     log,
		Options: l.Options.Builder,
	}
	if err := builder.Build(ctx, func(ctx context.Context, exp Expectation) error {
		return persister.Persist(ctx, exp)
	}); err != nil {
		return 0, err
	}
	if err := writer.Flush(ctx); err != nil {
		return 0, err
	}
	return queue.Count(ctx)
}

// dispatchPhase oozes the queued jobs out to the worker fan-out.
func (l *Loop) dispatchPhase(
	ctx context.Context,
	log *zap.Logger,
	queue *shardq.Queue,
	tracker *pulse.Tracker,
) (ooze.Result, error) {
	reader, err := shardq.NewReader(ctx, queue, log)
	if err != nil {
		return ooze.Result{}, err
	}
	oozerMetrics, err := ooze.NewOozerMetrics(l.Meter)
	if err != nil {
		return ooze.Result{}, err
	}
	oozer := &ooze.Oozer{
		Source:    reader,
		Submitter: &submitAdapter{sweep: queue.Sweep, fanout: l.Submit},
		Pulse:     tracker,
		Log:       log,
		Options:   l.Options.Ooze,
		Metrics:   oozerMetrics,
	}
	return oozer.Run(ctx)
}

// cooldown derives the next sweep's start delay from the final pulse.
func (l *Loop) cooldown(res ooze.Result, finalPulse *pulse.Pulse) time.Duration {
	if res.Oozed < l.Options.SeedThreshold {
		return l.Options.SeedCooldown
	}
	if finalPulse == nil {
		return l.Options.SeedCooldown
	}
	// All throttle kinds extend the cooldown, not just the
	// user-level bucket that drives the rate controller.
	return time.Duration(finalPulse.ThrottleRatio() * float64(l.Options.BaseCooldown))
}

// submitAdapter turns queue items into fan-out job descriptors.
type submitAdapter struct {
	sweep  string
	fanout fanout.Submitter
}

func (a *submitAdapter) Submit(ctx context.Context, item shardq.Item) error {
	return a.fanout.Submit(ctx, fanout.Job{
		Sweep:    a.sweep,
		JobID:    item.ID.String(),
		Score:    item.Score,
		SideData: item.SideData,
	})
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
