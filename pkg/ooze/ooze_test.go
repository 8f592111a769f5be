package ooze

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/zap/zaptest"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/outcome"
	"go.yarde.network/sweeper/pkg/pulse"
	"go.yarde.network/sweeper/pkg/shardq"
)

// sliceSource yields a fixed list of items.
type sliceSource struct {
	items []shardq.Item
	pos   int
}

func (s *sliceSource) Next(_ context.Context) (shardq.Item, bool, error) {
	if s.pos >= len(s.items) {
		return shardq.Item{}, false, nil
	}
	item := s.items[s.pos]
	s.pos++
	return item, true, nil
}

// collectSubmitter records submitted items.
type collectSubmitter struct {
	mu    sync.Mutex
	items []shardq.Item
}

func (c *collectSubmitter) Submit(_ context.Context, item shardq.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

// fakePulse serves a static pulse snapshot.
type fakePulse struct {
	mu         sync.Mutex
	p          pulse.Pulse
	inProgress int64
}

func (f *fakePulse) GetPulse(_ context.Context, _ time.Time) (*pulse.Pulse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.p
	return &cp, nil
}

func (f *fakePulse) AddInProgress(_ context.Context, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inProgress += delta
	return nil
}

func healthyPulse() pulse.Pulse {
	return pulse.Pulse{
		Ratios:      map[outcome.Code]float64{outcome.Success: 0.95},
		Recent:      map[outcome.Code]int64{outcome.Success: 95},
		RecentTotal: 95,
	}
}

func testItems(n int) []shardq.Item {
	items := make([]shardq.Item, n)
	for i := range items {
		items[i] = shardq.Item{
			ID: jobid.JobID{
				Namespace:  "shop",
				Parent:     "p1",
				EntityKind: "listing",
				EntityID:   fmt.Sprintf("e%d", i),
				ReportType: jobid.TypeProfile,
			},
			Score: float64(1000 - i),
		}
	}
	return items
}

func testOozer(t *testing.T, src Source, sub Submitter, p PulseSource, opts Options) *Oozer {
	metrics, err := NewOozerMetrics(global.Meter("ooze_test"))
	require.NoError(t, err)
	return &Oozer{
		Source:    src,
		Submitter: sub,
		Pulse:     p,
		Log:       zaptest.NewLogger(t),
		Options:   opts,
		Metrics:   metrics,
	}
}

func TestOozeDrainsQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &sliceSource{items: testItems(20)}
	sub := new(collectSubmitter)
	fp := &fakePulse{p: healthyPulse()}
	opts := DefaultOptions
	opts.InitialRate = 1000
	opts.MaxRate = 1000
	opts.CounterFlush = 4
	o := testOozer(t, src, sub, fp, opts)

	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Equal(t, int64(20), res.Oozed)
	require.Len(t, sub.items, 20)
	// Priority order is preserved.
	for i := 1; i < len(sub.items); i++ {
		assert.LessOrEqual(t, sub.items[i].Score, sub.items[i-1].Score)
	}
	// All dispatch counters flushed.
	assert.Equal(t, int64(20), fp.inProgress)
}

func TestOozeAbortsOnBadPulse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &sliceSource{items: testItems(500)}
	sub := new(collectSubmitter)
	fp := &fakePulse{p: pulse.Pulse{
		Ratios:      map[outcome.Code]float64{outcome.UserThrottle: 0.9, outcome.Success: 0.05},
		Recent:      map[outcome.Code]int64{outcome.UserThrottle: 90},
		RecentTotal: 100,
	}}
	opts := DefaultOptions
	opts.InitialRate = 1
	opts.MaxRate = 1
	opts.MinOozed = 10
	opts.ReviewInterval = time.Millisecond
	o := testOozer(t, src, sub, fp, opts)

	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.GreaterOrEqual(t, res.Oozed, int64(10))
	assert.Less(t, res.Oozed, int64(500))
}

func TestOozeBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &sliceSource{items: testItems(100000)}
	sub := new(collectSubmitter)
	fp := &fakePulse{p: healthyPulse()}
	opts := DefaultOptions
	opts.OozeBudget = 50 * time.Millisecond
	opts.InitialRate = 5
	opts.MaxRate = 5
	o := testOozer(t, src, sub, fp, opts)

	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Less(t, res.Oozed, int64(100000))
}

// steppingPulse advances DoneTotal on every read.
type steppingPulse struct {
	fakePulse
	step int64
}

func (s *steppingPulse) GetPulse(ctx context.Context, at time.Time) (*pulse.Pulse, error) {
	s.mu.Lock()
	s.p.DoneTotal += s.step
	s.mu.Unlock()
	return s.fakePulse.GetPulse(ctx, at)
}

func TestWaiterCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &steppingPulse{fakePulse: fakePulse{p: healthyPulse()}, step: 25}
	w := &Waiter{
		Pulse: fp,
		Log:   zaptest.NewLogger(t),
		Options: WaiterOptions{
			PollInterval:       time.Millisecond,
			CompletionFraction: 0.90,
			WaitBudget:         time.Minute,
		},
	}
	p, err := w.Wait(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, p.DoneTotal, int64(90))
}

func TestWaiterBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fp := &fakePulse{p: healthyPulse()}
	w := &Waiter{
		Pulse: fp,
		Log:   zaptest.NewLogger(t),
		Options: WaiterOptions{
			PollInterval:       time.Millisecond,
			CompletionFraction: 0.90,
			WaitBudget:         20 * time.Millisecond,
		},
	}
	p, err := w.Wait(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Zero(t, p.DoneTotal)
}

func TestWaiterRoundsUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 11 oozed at 0.90 needs 10 completions, not a truncated 9.
	fp := &steppingPulse{fakePulse: fakePulse{p: healthyPulse()}, step: 1}
	fp.p.DoneTotal = 8
	w := &Waiter{
		Pulse: fp,
		Log:   zaptest.NewLogger(t),
		Options: WaiterOptions{
			PollInterval:       time.Millisecond,
			CompletionFraction: 0.90,
			WaitBudget:         time.Minute,
		},
	}
	p, err := w.Wait(ctx, 11)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, p.DoneTotal, int64(10))

	// A single oozed job still waits for its completion.
	slow := &fakePulse{p: healthyPulse()}
	w.Pulse = slow
	w.Options.WaitBudget = 30 * time.Millisecond
	start := time.Now()
	p, err = w.Wait(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, time.Since(start), w.Options.WaitBudget)
}

func TestCalculateRateClamp(t *testing.T) {
	opts := DefaultOptions
	opts.MinRate = 1
	opts.MaxRate = 50
	cases := []struct {
		name string
		p    pulse.Pulse
		old  float64
	}{
		{"all success", healthyPulse(), 50},
		{"all throttled", pulse.Pulse{
			Recent:      map[outcome.Code]int64{outcome.UserThrottle: 100},
			RecentTotal: 100,
		}, 1},
		{"zero total", pulse.Pulse{Recent: map[outcome.Code]int64{}}, 25},
		{"extreme old rate", healthyPulse(), 1e9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := CalculateRate(tc.old, &tc.p, opts)
			assert.GreaterOrEqual(t, next, opts.MinRate)
			assert.LessOrEqual(t, next, opts.MaxRate)
		})
	}
}

func TestCalculateRateDirection(t *testing.T) {
	opts := DefaultOptions
	// Throttling backs off proportionally.
	throttled := &pulse.Pulse{
		Recent:      map[outcome.Code]int64{outcome.UserThrottle: 50},
		RecentTotal: 100,
	}
	next := CalculateRate(10, throttled, opts)
	assert.Less(t, next, 10.0)
	assert.InDelta(t, 10-50.0/101.0*10, next, 1e-9)
	// A quiet pulse recovers slowly.
	quiet := &pulse.Pulse{
		Recent:      map[outcome.Code]int64{outcome.Success: 100},
		RecentTotal: 100,
	}
	next = CalculateRate(10, quiet, opts)
	assert.Greater(t, next, 10.0)
	assert.InDelta(t, 10.5, next, 1e-9)
	// Other throttle kinds do not slow the controller.
	appThrottled := &pulse.Pulse{
		Recent:      map[outcome.Code]int64{outcome.AppThrottle: 100},
		RecentTotal: 100,
	}
	next = CalculateRate(10, appThrottled, opts)
	assert.Greater(t, next, 10.0)
}
