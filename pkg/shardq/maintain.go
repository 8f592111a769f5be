package shardq

import (
	"context"
	"fmt"
)

// Count returns the total number of queued jobs across all shards.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	var total int64
	for _, shard := range q.Topology.Shards(q.Sweep) {
		client, err := q.Shards.GetShard(shard)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve shard %d: %w", shard.Index, err)
		}
		n, err := client.ZCard(ctx, queueKey(shard)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count shard %d: %w", shard.Index, err)
		}
		total += n
	}
	return total, nil
}

// Drop deletes all queue and side-data keys of the sweep.
// Used to clear out stale sweeps wholesale.
func (q *Queue) Drop(ctx context.Context) error {
	for _, shard := range q.Topology.Shards(q.Sweep) {
		client, err := q.Shards.GetShard(shard)
		if err != nil {
			return fmt.Errorf("failed to resolve shard %d: %w", shard.Index, err)
		}
		if err := client.Del(ctx, queueKey(shard)).Err(); err != nil {
			return fmt.Errorf("failed to drop shard %d: %w", shard.Index, err)
		}
		// Side data of this sweep may live on any shard server.
		var cursor uint64
		for {
			keys, next, err := client.Scan(ctx, cursor, sideDataPattern(q.Sweep), 256).Result()
			if err != nil {
				return fmt.Errorf("failed to scan side data on shard %d: %w", shard.Index, err)
			}
			if len(keys) > 0 {
				if err := client.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("failed to drop side data on shard %d: %w", shard.Index, err)
				}
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
	return nil
}
