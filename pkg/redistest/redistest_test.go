package redistest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()
	rd := NewRedis(ctx, t)
	defer rd.Close(t)
	require.NoError(t, rd.Client.Set(ctx, "probe", "1", 0).Err())
	val, err := rd.Client.Get(ctx, "probe").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", val)
	cancel()
}
