package shardq

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/zap/zaptest"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/redistest"
	"go.yarde.network/sweeper/pkg/topology"
	"go.yarde.network/sweeper/pkg/topology/redisshard"
)

func testQueue(t *testing.T, client *redisshard.StandaloneFactory, sweep string) *Queue {
	return &Queue{
		Sweep: sweep,
		Topology: &topology.Config{
			ShardCount: 3,
		},
		Shards:  client,
		Options: DefaultOptions,
	}
}

func newTestWriter(t *testing.T, q *Queue) *Writer {
	metrics, err := NewWriterMetrics(global.Meter("shardq_test"))
	require.NoError(t, err)
	w, err := NewWriter(q, zaptest.NewLogger(t), metrics)
	require.NoError(t, err)
	return w
}

func TestMergeOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	factory := &redisshard.StandaloneFactory{Redis: rd.Client}

	q := testQueue(t, factory, "sweep-1")
	q.Options.WriteBatch = 4
	q.Options.PageSize = 4
	w := newTestWriter(t, q)

	// 30 per-entity jobs of mixed scores over 5 parents.
	rng := rand.New(rand.NewSource(42))
	written := make(map[string]float64)
	for i := 0; i < 30; i++ {
		id := jobid.JobID{
			Namespace:  "shop",
			Parent:     fmt.Sprintf("p%d", i%5),
			EntityKind: "listing",
			EntityID:   fmt.Sprintf("e%d", i),
			ReportType: jobid.TypeProfile,
		}
		score := float64(100 + rng.Intn(900))
		written[id.String()] = score
		require.NoError(t, w.Add(ctx, Item{
			ID:       id,
			Score:    score,
			SideData: "meta-" + id.Parent,
		}))
	}
	require.NoError(t, w.Flush(ctx))

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), count)

	r, err := NewReader(ctx, q, zaptest.NewLogger(t))
	require.NoError(t, err)
	var got []Item
	for {
		item, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, item)
	}
	require.Len(t, got, 30)
	// Stream is non-increasing in score and matches the written multiset.
	read := make(map[string]float64)
	for i, item := range got {
		if i > 0 {
			assert.LessOrEqual(t, item.Score, got[i-1].Score)
		}
		read[item.ID.String()] = item.Score
		assert.Equal(t, "meta-"+item.ID.Parent, item.SideData)
	}
	assert.Equal(t, written, read)
}

func TestWriterDedup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	factory := &redisshard.StandaloneFactory{Redis: rd.Client}

	q := testQueue(t, factory, "sweep-2")
	q.Options.WriteBatch = 2
	w := newTestWriter(t, q)

	perParent := jobid.JobID{
		Namespace:  "shop",
		Parent:     "p1",
		ReportType: jobid.TypeCatalog,
	}
	// Same per-parent job with the same score, many times over.
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Add(ctx, Item{ID: perParent, Score: 500}))
		require.NoError(t, w.Add(ctx, Item{
			ID: jobid.JobID{
				Namespace:  "shop",
				Parent:     "p1",
				EntityKind: "listing",
				EntityID:   fmt.Sprintf("e%d", i),
				ReportType: jobid.TypeProfile,
			},
			Score: 300,
		}))
	}
	require.NoError(t, w.Flush(ctx))
	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), count)

	// A different score for the same job ID survives as the last write.
	require.NoError(t, w.Add(ctx, Item{ID: perParent, Score: 700}))
	require.NoError(t, w.Flush(ctx))
	count, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), count)

	r, err := NewReader(ctx, q, zaptest.NewLogger(t))
	require.NoError(t, err)
	var scores []float64
	for {
		item, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		if item.ID.IsPerParent() {
			scores = append(scores, item.Score)
		}
	}
	assert.Equal(t, []float64{700}, scores)
}

func TestDrop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	factory := &redisshard.StandaloneFactory{Redis: rd.Client}

	q := testQueue(t, factory, "sweep-3")
	w := newTestWriter(t, q)
	require.NoError(t, w.Add(ctx, Item{
		ID:       jobid.JobID{Namespace: "shop", Parent: "p1", ReportType: jobid.TypeCatalog},
		Score:    500,
		SideData: "meta",
	}))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, q.Drop(ctx))
	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	keys, err := rd.Client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestTieBreakDeterministic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	factory := &redisshard.StandaloneFactory{Redis: rd.Client}

	write := func(sweep string) []string {
		q := testQueue(t, factory, sweep)
		w := newTestWriter(t, q)
		for i := 0; i < 12; i++ {
			require.NoError(t, w.Add(ctx, Item{
				ID: jobid.JobID{
					Namespace:  "shop",
					Parent:     fmt.Sprintf("p%d", i),
					ReportType: jobid.TypeCatalog,
				},
				Score: 500, // all tied
			}))
		}
		require.NoError(t, w.Flush(ctx))
		var order []string
		r, err := NewReader(ctx, q, zaptest.NewLogger(t))
		require.NoError(t, err)
		for {
			item, ok, err := r.Next(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			order = append(order, item.ID.String())
		}
		return order
	}
	first := write("sweep-t")
	// Re-reading the same sweep yields the same order.
	q := testQueue(t, factory, "sweep-t")
	r, err := NewReader(ctx, q, zaptest.NewLogger(t))
	require.NoError(t, err)
	var second []string
	for {
		item, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		second = append(second, item.ID.String())
	}
	require.Equal(t, first, second)
	assert.Len(t, first, 12)
}
