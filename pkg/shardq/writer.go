package shardq

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/simplelru"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/cachegc"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/topology"
)

// Item is one scored job held by the queue.
type Item struct {
	ID       jobid.JobID
	Score    float64
	SideData string // auxiliary parent-scope payload, may be empty
}

// Writer batches scored jobs into the queue.
//
// Writers de-duplicate repeating per-parent jobs: the same per-parent
// job ID is derived once per child while building a sweep, so skipping
// identical re-writes is the primary cost saver here.
// A Writer is not safe for concurrent use; run one per producer.
type Writer struct {
	Queue   *Queue
	Log     *zap.Logger
	Metrics *WriterMetrics

	batch       map[string]Item
	batchParent string // common parent of the batch, "" once mixed
	scoreCache  *cachegc.Cache
	sideSeen    *cachegc.Cache
	rng         *rand.Rand
}

// NewWriter creates a queue writer.
func NewWriter(q *Queue, log *zap.Logger, metrics *WriterMetrics) (*Writer, error) {
	scoreLRU, err := simplelru.NewLRU(q.Options.ScoreCacheSize, nil)
	if err != nil {
		return nil, err
	}
	sideLRU, err := simplelru.NewLRU(q.Options.ScoreCacheSize, nil)
	if err != nil {
		return nil, err
	}
	return &Writer{
		Queue:      q,
		Log:        log,
		Metrics:    metrics,
		batch:      make(map[string]Item),
		scoreCache: cachegc.NewCache(scoreLRU, q.Options.ScoreCacheTTL),
		sideSeen:   cachegc.NewCache(sideLRU, q.Options.ScoreCacheTTL),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Add queues one scored job for writing.
// Same job ID in the current batch: last value wins.
// Same per-parent job ID with an identical recently written score: skipped.
func (w *Writer) Add(ctx context.Context, item Item) error {
	key := item.ID.String()
	if item.ID.IsPerParent() {
		if cached, ok := w.scoreCache.Get(key); ok && cached.(float64) == item.Score {
			// Already durably queued with this exact score.
			w.Metrics.skips.Add(ctx, 1)
			return nil
		}
	}
	if len(w.batch) == 0 {
		w.batchParent = item.ID.Parent
	} else if w.batchParent != item.ID.Parent {
		w.batchParent = ""
	}
	w.batch[key] = item
	if item.ID.IsPerParent() {
		w.scoreCache.Add(key, item.Score)
	}
	w.persistSideData(ctx, item)
	if uint(len(w.batch)) >= w.Queue.Options.WriteBatch {
		w.flushBatch(ctx)
	}
	return ctx.Err()
}

// Flush writes out any partial batch.
// Call before handing the sweep to the read side.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.batch) > 0 {
		w.flushBatch(ctx)
	}
	return ctx.Err()
}

// flushBatch bulk-writes the current batch to one shard.
// Batches with a single common parent go to that parent's hash shard,
// mixed batches to a uniformly random one. Transient store errors are
// logged and the batch is dropped; the sweep continues.
func (w *Writer) flushBatch(ctx context.Context) {
	var shard topology.Shard
	if w.batchParent != "" {
		var probe jobid.JobID
		for _, item := range w.batch {
			probe = item.ID
			break
		}
		shard = w.Queue.sideDataShard(probe.ShardValue())
	} else {
		shard = topology.Shard{
			Sweep: w.Queue.Sweep,
			Index: w.rng.Int31n(w.Queue.Topology.ShardCount),
		}
	}
	members := make([]*redis.Z, 0, len(w.batch))
	for key, item := range w.batch {
		members = append(members, &redis.Z{Score: item.Score, Member: key})
	}
	w.batch = make(map[string]Item)
	w.batchParent = ""
	client, err := w.Queue.Shards.GetShard(shard)
	if err != nil {
		w.Log.Error("Failed to resolve shard, dropping batch",
			zap.Int32("shard.index", shard.Index), zap.Error(err))
		w.Metrics.dropped.Add(ctx, int64(len(members)))
		return
	}
	if err := client.ZAdd(ctx, queueKey(shard), members...).Err(); err != nil {
		w.Log.Error("Failed to write batch, dropping",
			zap.Int32("shard.index", shard.Index),
			zap.Int("batch.size", len(members)),
			zap.Error(err))
		w.Metrics.dropped.Add(ctx, int64(len(members)))
		return
	}
	w.Metrics.writes.Add(ctx, int64(len(members)))
}

// persistSideData stores the parent's side-data payload once per sweep.
func (w *Writer) persistSideData(ctx context.Context, item Item) {
	if item.SideData == "" || item.ID.Parent == "" {
		return
	}
	if _, ok := w.sideSeen.Get(item.ID.Parent); ok {
		return
	}
	shard := w.Queue.sideDataShard(item.ID.ShardValue())
	client, err := w.Queue.Shards.GetShard(shard)
	if err != nil {
		w.Log.Error("Failed to resolve side-data shard",
			zap.String("parent", item.ID.Parent), zap.Error(err))
		return
	}
	// SetNX keeps the write idempotent when the parent recurs
	// after falling out of the seen cache.
	key := sideDataKey(w.Queue.Sweep, item.ID.Parent)
	if err := client.SetNX(ctx, key, item.SideData, 0).Err(); err != nil {
		w.Log.Error("Failed to persist side data, skipping",
			zap.String("parent", item.ID.Parent), zap.Error(err))
		return
	}
	w.sideSeen.Add(item.ID.Parent, true)
	w.Metrics.sideData.Add(ctx, 1)
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	writes   metric.Int64Counter
	skips    metric.Int64Counter
	dropped  metric.Int64Counter
	sideData metric.Int64Counter
}

// NewWriterMetrics registers the writer counters on a meter.
func NewWriterMetrics(m metric.Meter) (*WriterMetrics, error) {
	metrics := new(WriterMetrics)
	var err error
	if metrics.writes, err = m.NewInt64Counter("sweeper_queue_writes"); err != nil {
		return nil, err
	}
	if metrics.skips, err = m.NewInt64Counter("sweeper_queue_dedup_skips"); err != nil {
		return nil, err
	}
	if metrics.dropped, err = m.NewInt64Counter("sweeper_queue_dropped"); err != nil {
		return nil, err
	}
	if metrics.sideData, err = m.NewInt64Counter("sweeper_queue_side_data_writes"); err != nil {
		return nil, err
	}
	return metrics, nil
}
