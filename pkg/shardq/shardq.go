// Package shardq implements the sharded priority queue that holds
// the pending jobs of one sweep.
//
// Data structures
//
// Jobs live in N independent Redis sorted sets ("shards"), scored by
// priority. Writers batch and de-duplicate adds, then bulk-write each
// batch to one shard. Readers page through every shard by descending
// score and k-way merge the pages into a single globally
// score-descending stream, holding at most shards x page size items
// in memory regardless of queue size.
//
// Auxiliary side-data blobs are stored once per parent scope under a
// separate key and resolved lazily on the read side.
//
// Properties
//
// Shard assignment only spreads load; ordering is restored by the
// merge reader. Writes to the same job ID within one sweep collapse
// to the most recently written score. Per-shard operations are
// independently atomic; no cross-shard consistency is required.
package shardq

import (
	"encoding/binary"
	"strings"
	"time"

	"go.yarde.network/sweeper/pkg/topology"
	"go.yarde.network/sweeper/pkg/topology/redisshard"
)

// Options stores queue tuning parameters.
type Options struct {
	WriteBatch        uint          // jobs per bulk write (B)
	PageSize          int64         // jobs per read page per shard (P)
	ScoreCacheSize    int           // per-parent score LRU entries (C)
	ScoreCacheTTL     time.Duration // per-parent score LRU entry lifetime
	SideDataCacheSize int           // reader side-data LRU entries
	SideDataCacheTTL  time.Duration // reader side-data LRU entry lifetime
}

// DefaultOptions returns the default queue options.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultOptions = Options{
	WriteBatch:        256,
	PageSize:          512,
	ScoreCacheSize:    4096,
	ScoreCacheTTL:     2 * time.Hour,
	SideDataCacheSize: 1024,
	SideDataCacheTTL:  2 * time.Hour,
}

// Queue is one sweep's sharded priority queue handle.
type Queue struct {
	Sweep    string
	Topology *topology.Config
	Shards   redisshard.Factory
	Options  Options
}

// queueKey returns the sorted set key of one shard.
func queueKey(shard topology.Shard) string {
	var builder strings.Builder
	builder.WriteString("sweepq_v0\x00")
	builder.WriteString(shard.Sweep)
	builder.WriteByte(0x00)
	_ = binary.Write(&builder, binary.BigEndian, shard.Index)
	return builder.String()
}

// sideDataKey returns the side-data blob key of one parent scope.
func sideDataKey(sweep, parent string) string {
	var builder strings.Builder
	builder.WriteString("sweepq_v0\x01")
	builder.WriteString(sweep)
	builder.WriteByte(0x00)
	builder.WriteString(parent)
	return builder.String()
}

// sideDataPattern matches all side-data keys of a sweep.
func sideDataPattern(sweep string) string {
	return "sweepq_v0\x01" + sweep + "\x00*"
}

// sideDataShard returns the shard holding a parent's side data.
// Side data is spread over shards by parent hash so that reads and
// writes distribute the same way the queue entries do.
func (q *Queue) sideDataShard(shardValue uint32) topology.Shard {
	return topology.Shard{
		Sweep: q.Sweep,
		Index: int32(shardValue % uint32(q.Topology.ShardCount)),
	}
}
