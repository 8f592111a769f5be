// Package topology describes how a sweeper deployment is laid out:
// how many priority queue shards a sweep has and where they live.
package topology

import (
	"github.com/go-redis/redis/v8"
)

// Config holds the full topology configuration of a sweeper deployment.
type Config struct {
	// ShardCount is the number of priority queue shards per sweep.
	ShardCount int32
	// RedisShardFactory maps shards to Redis servers.
	RedisShardFactory *RedisShardFactory
}

// Shard addresses one priority queue partition of one sweep.
type Shard struct {
	Sweep string
	Index int32
}

// Shards enumerates all shards of a sweep.
func (c *Config) Shards(sweep string) []Shard {
	shards := make([]Shard, c.ShardCount)
	for i := int32(0); i < c.ShardCount; i++ {
		shards[i] = Shard{Sweep: sweep, Index: i}
	}
	return shards
}

// RedisShardFactory manages Redis shards.
//
// As of now, it only supports the "Standalone" factory.
type RedisShardFactory struct {
	Type       string
	Standalone RedisShardFactoryStandalone
}

// RedisShardFactoryStandalone allocates all
// Redis shards in a single, standalone Redis database.
type RedisShardFactoryStandalone struct {
	Redis  redis.Options
	Client *redis.Client // Existing client override
}
