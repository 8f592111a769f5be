package shardq

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/simplelru"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/cachegc"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/topology"
)

// Reader merges the queue's shards into one score-descending stream.
//
// It pages through each shard separately and keeps a one-entry "front
// row" per shard, popping the highest-scored front entry on every
// Next call. Ties break by shard index, which keeps one read pass
// deterministic. A Reader is not safe for concurrent use.
type Reader struct {
	Queue *Queue
	Log   *zap.Logger

	cursors   []*shardCursor
	sideCache *cachegc.Cache
}

type shardCursor struct {
	shard  topology.Shard
	client *redis.Client
	page   []redis.Z
	pos    int
	offset int64
}

// NewReader opens a merge reader over all shards of the sweep.
func NewReader(ctx context.Context, q *Queue, log *zap.Logger) (*Reader, error) {
	sideLRU, err := simplelru.NewLRU(q.Options.SideDataCacheSize, nil)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		Queue:     q,
		Log:       log,
		sideCache: cachegc.NewCache(sideLRU, q.Options.SideDataCacheTTL),
	}
	for _, shard := range q.Topology.Shards(q.Sweep) {
		client, err := q.Shards.GetShard(shard)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve shard %d: %w", shard.Index, err)
		}
		cursor := &shardCursor{shard: shard, client: client}
		if err := r.fill(ctx, cursor); err != nil {
			return nil, err
		}
		if len(cursor.page) > 0 {
			r.cursors = append(r.cursors, cursor)
		}
	}
	return r, nil
}

// Next pops the highest-scored remaining job.
// Returns ok=false when the queue is exhausted.
// Malformed queue entries are logged and skipped.
func (r *Reader) Next(ctx context.Context) (item Item, ok bool, err error) {
	for {
		if len(r.cursors) == 0 {
			return Item{}, false, nil
		}
		// Front row scan: highest score wins, lowest shard index on ties.
		best := 0
		for i := 1; i < len(r.cursors); i++ {
			a := r.cursors[i].front()
			b := r.cursors[best].front()
			if a.Score > b.Score ||
				(a.Score == b.Score && r.cursors[i].shard.Index < r.cursors[best].shard.Index) {
				best = i
			}
		}
		cursor := r.cursors[best]
		entry := cursor.front()
		if err := r.advance(ctx, best); err != nil {
			return Item{}, false, err
		}
		id, parseErr := jobid.Parse(entry.Member.(string))
		if parseErr != nil {
			r.Log.Error("Skipping malformed queue entry", zap.Error(parseErr))
			continue
		}
		side, sideErr := r.sideData(ctx, id)
		if sideErr != nil {
			// Side data is auxiliary; deliver the job without it.
			r.Log.Warn("Failed to resolve side data",
				zap.String("parent", id.Parent), zap.Error(sideErr))
		}
		return Item{ID: id, Score: entry.Score, SideData: side}, true, nil
	}
}

func (c *shardCursor) front() redis.Z {
	return c.page[c.pos]
}

// advance moves a cursor forward, refilling its page from Redis and
// dropping the cursor once its shard is exhausted.
func (r *Reader) advance(ctx context.Context, i int) error {
	cursor := r.cursors[i]
	cursor.pos++
	if cursor.pos < len(cursor.page) {
		return nil
	}
	if err := r.fill(ctx, cursor); err != nil {
		return err
	}
	if len(cursor.page) == 0 {
		r.cursors = append(r.cursors[:i], r.cursors[i+1:]...)
	}
	return nil
}

func (r *Reader) fill(ctx context.Context, cursor *shardCursor) error {
	page, err := cursor.client.ZRevRangeByScoreWithScores(ctx, queueKey(cursor.shard), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: cursor.offset,
		Count:  r.Queue.Options.PageSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to page shard %d: %w", cursor.shard.Index, err)
	}
	cursor.page = page
	cursor.pos = 0
	cursor.offset += int64(len(page))
	return nil
}

// sideData resolves the parent's side-data payload, caching per parent.
func (r *Reader) sideData(ctx context.Context, id jobid.JobID) (string, error) {
	if id.Parent == "" {
		return "", nil
	}
	if cached, ok := r.sideCache.Get(id.Parent); ok {
		return cached.(string), nil
	}
	shard := r.Queue.sideDataShard(id.ShardValue())
	client, err := r.Queue.Shards.GetShard(shard)
	if err != nil {
		return "", err
	}
	side, err := client.Get(ctx, sideDataKey(r.Queue.Sweep, id.Parent)).Result()
	if err == redis.Nil {
		side = ""
	} else if err != nil {
		return "", err
	}
	r.sideCache.Add(id.Parent, side)
	return side, nil
}
