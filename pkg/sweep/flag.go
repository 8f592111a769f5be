package sweep

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Flag is the shared sweep-running marker.
//
// The loop sets it while a sweep runs; workers check it before
// expensive external calls and abort early when it is gone. The TTL
// keeps a crashed scheduler from leaving the flag set forever.
type Flag struct {
	Redis *redis.Client
}

func flagKey(sweep string) string {
	return "sweepflag_v0\x00" + sweep
}

// Set marks the sweep as running.
func (f *Flag) Set(ctx context.Context, sweep string, ttl time.Duration) error {
	return f.Redis.Set(ctx, flagKey(sweep), "1", ttl).Err()
}

// Get reports whether the sweep is marked running.
func (f *Flag) Get(ctx context.Context, sweep string) (bool, error) {
	err := f.Redis.Get(ctx, flagKey(sweep)).Err()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes the marker.
func (f *Flag) Clear(ctx context.Context, sweep string) error {
	return f.Redis.Del(ctx, flagKey(sweep)).Err()
}
