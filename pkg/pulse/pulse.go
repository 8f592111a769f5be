// Package pulse aggregates live worker outcome telemetry for one sweep.
//
// Workers report outcomes into per-minute Redis hash buckets; all
// writes are commutative increments, so any number of workers may
// report concurrently. The pulse snapshot is recomputed from the raw
// buckets on every read: a recency-weighted blend of the last few
// minutes that deliberately overweights the newest behavior so the
// dispatch control loop reacts quickly. The blend is a ratio of
// per-bucket ratios, not a population proportion.
package pulse

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.yarde.network/sweeper/pkg/outcome"
)

// Weights blend the merged minute buckets, newest first.
var Weights = [3]float64{0.80, 0.15, 0.05}

// bucketCount is how many raw minute buckets a snapshot reads.
// Bucket 0 is merged into bucket 1 before weighting: the current
// minute alone is too fresh to be statistically meaningful.
const bucketCount = 4

// Marker hash fields.
const (
	fieldDoneTotal  = "done_total"
	fieldInProgress = "in_progress"
)

// Tracker is one sweep's outcome aggregator.
type Tracker struct {
	Redis *redis.Client
	Sweep string
	// BucketTTL expires raw minute buckets. Zero keeps them forever.
	BucketTTL time.Duration
}

// minuteKey returns the counter hash key of one minute bucket.
func (t *Tracker) minuteKey(minute int64) string {
	var builder strings.Builder
	builder.WriteString("pulse_v0\x00")
	builder.WriteString(t.Sweep)
	builder.WriteByte(0x00)
	_ = binary.Write(&builder, binary.BigEndian, minute)
	return builder.String()
}

// markerKey returns the sweep-lifetime counter hash key.
func (t *Tracker) markerKey() string {
	return "pulse_v0\x01" + t.Sweep
}

// ReportStatus records one worker outcome at the given time.
func (t *Tracker) ReportStatus(ctx context.Context, code outcome.Code, at time.Time) error {
	minute := at.Unix() / 60
	pipe := t.Redis.Pipeline()
	bucket := t.minuteKey(minute)
	pipe.HIncrBy(ctx, bucket, code.String(), 1)
	if t.BucketTTL > 0 {
		pipe.Expire(ctx, bucket, t.BucketTTL)
	}
	if code.Terminal() {
		pipe.HIncrBy(ctx, t.markerKey(), fieldDoneTotal, 1)
		pipe.HIncrBy(ctx, t.markerKey(), fieldInProgress, -1)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to report status: %w", err)
	}
	return nil
}

// AddInProgress adjusts the in-progress gauge.
// The dispatcher adds one per submitted job; terminal outcomes
// subtract it back via ReportStatus.
func (t *Tracker) AddInProgress(ctx context.Context, delta int64) error {
	return t.Redis.HIncrBy(ctx, t.markerKey(), fieldInProgress, delta).Err()
}

// Pulse is a derived snapshot of recent outcome behavior.
type Pulse struct {
	// Ratios is the recency-weighted ratio blend per outcome code.
	Ratios map[outcome.Code]float64
	// Recent holds raw counts of the very recent window (merged buckets 0+1).
	Recent map[outcome.Code]int64
	// RecentTotal is the total count of the very recent window.
	RecentTotal int64
	// InProgress is the current in-flight gauge.
	InProgress int64
	// DoneTotal is the unweighted sweep-lifetime terminal outcome count.
	DoneTotal int64
}

// SuccessRatio returns the weighted success ratio.
func (p *Pulse) SuccessRatio() float64 {
	return p.Ratios[outcome.Success]
}

// UserThrottleRatio returns the weighted user-level throttling ratio.
// This is the signal the rate controller consumes.
func (p *Pulse) UserThrottleRatio() float64 {
	return p.Ratios[outcome.UserThrottle]
}

// ThrottleRatio returns the weighted ratio across all throttle kinds.
func (p *Pulse) ThrottleRatio() float64 {
	return p.Ratios[outcome.UserThrottle] +
		p.Ratios[outcome.AppThrottle] +
		p.Ratios[outcome.AccountThrottle]
}

// GetPulse computes the snapshot for the given point in time.
func (t *Tracker) GetPulse(ctx context.Context, at time.Time) (*Pulse, error) {
	minute := at.Unix() / 60
	pipe := t.Redis.Pipeline()
	bucketCmds := make([]*redis.StringStringMapCmd, bucketCount)
	for i := 0; i < bucketCount; i++ {
		bucketCmds[i] = pipe.HGetAll(ctx, t.minuteKey(minute-int64(i)))
	}
	markerCmd := pipe.HGetAll(ctx, t.markerKey())
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read pulse buckets: %w", err)
	}
	raw := make([]map[outcome.Code]int64, bucketCount)
	for i, cmd := range bucketCmds {
		bucket, err := parseBucket(cmd.Val())
		if err != nil {
			return nil, err
		}
		raw[i] = bucket
	}
	// Merge the too-fresh current minute into its neighbor.
	merged := []map[outcome.Code]int64{
		sumBuckets(raw[0], raw[1]),
		raw[2],
		raw[3],
	}
	p := &Pulse{
		Ratios: make(map[outcome.Code]float64),
		Recent: merged[0],
	}
	for _, n := range merged[0] {
		p.RecentTotal += n
	}
	for i, bucket := range merged {
		var total int64
		for _, n := range bucket {
			total += n
		}
		if total == 0 {
			continue
		}
		for code, n := range bucket {
			p.Ratios[code] += Weights[i] * float64(n) / float64(total)
		}
	}
	marker := markerCmd.Val()
	if v, ok := marker[fieldDoneTotal]; ok {
		p.DoneTotal, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := marker[fieldInProgress]; ok {
		p.InProgress, _ = strconv.ParseInt(v, 10, 64)
	}
	return p, nil
}

// Drop deletes all pulse keys of the sweep.
func (t *Tracker) Drop(ctx context.Context, until time.Time, history time.Duration) error {
	minute := until.Unix() / 60
	keys := []string{t.markerKey()}
	for i := int64(0); i <= int64(history/time.Minute); i++ {
		keys = append(keys, t.minuteKey(minute-i))
	}
	return t.Redis.Del(ctx, keys...).Err()
}

func parseBucket(fields map[string]string) (map[outcome.Code]int64, error) {
	bucket := make(map[outcome.Code]int64, len(fields))
	for field, value := range fields {
		code, err := outcome.ParseCode(field)
		if err != nil {
			return nil, fmt.Errorf("corrupt pulse bucket: %w", err)
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt pulse count for %s: %w", field, err)
		}
		bucket[code] = n
	}
	return bucket, nil
}

func sumBuckets(a, b map[outcome.Code]int64) map[outcome.Code]int64 {
	out := make(map[outcome.Code]int64, len(a)+len(b))
	for code, n := range a {
		out[code] += n
	}
	for code, n := range b {
		out[code] += n
	}
	return out
}

// TrackerSet hands out trackers for any sweep id. The results
// consumer serves all sweeps on a topic and routes each record to its
// sweep's tracker through this.
type TrackerSet struct {
	Redis     *redis.Client
	BucketTTL time.Duration
}

// ReportStatus reports one outcome to the named sweep's pulse.
func (s *TrackerSet) ReportStatus(ctx context.Context, sweep string, code outcome.Code, at time.Time) error {
	tracker := &Tracker{Redis: s.Redis, Sweep: sweep, BucketTTL: s.BucketTTL}
	return tracker.ReportStatus(ctx, code, at)
}
