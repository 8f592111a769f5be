// Package redistest contains utilities for unit tests with Redis.
package redistest

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.yarde.network/sweeper/pkg/exectest"
)

// startupTimeout bounds how long NewRedis waits for the server socket.
const startupTimeout = 3 * time.Second

// Redis is a Redis server and client for use in end-to-end unit tests.
type Redis struct {
	Cmd    *exec.Cmd
	Client *redis.Client

	bg      *exectest.Background
	tempDir string
}

// NewRedis starts an ephemeral Redis server and returns a client.
// Persistence is disabled, all state lives in a temp dir.
func NewRedis(ctx context.Context, t testing.TB) *Redis {
	// Run Redis server as subprocess.
	dir, err := ioutil.TempDir("", "redistest-")
	if err != nil {
		panic("failed to get temp dir: " + err.Error())
	}
	socket := filepath.Join(dir, "redis.sock")
	redisCmd := exec.CommandContext(ctx, "redis-server",
		"--port", "0",
		"--unixsocket", socket,
		"--unixsocketperm", "700",
		"--save", "",
		"--appendonly", "no",
		"--loglevel", "verbose")
	redisCmd.Dir = dir
	bg := exectest.NewBackground(t, redisCmd)
	bg.Name = "redis"
	bg.LogStdout = true
	bg.LogStderr = true
	bg.Start()
	// Create Redis client.
	client := redis.NewClient(&redis.Options{
		Network: "unix",
		Addr:    socket,
	})
	r := &Redis{
		Cmd:    redisCmd,
		Client: client,

		bg:      bg,
		tempDir: dir,
	}
	r.waitReady(ctx, t)
	return r
}

// waitReady pings the server until it responds or the startup timeout passes.
func (r *Redis) waitReady(ctx context.Context, t testing.TB) {
	deadline := time.Now().Add(startupTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var pingErr error
	for time.Now().Before(deadline) {
		pingErr = r.Client.Ping(ctx).Err()
		switch {
		case pingErr == nil:
			t.Log("redistest: Redis is up")
			return
		case errors.Is(pingErr, redis.ErrClosed), errors.Is(pingErr, os.ErrNotExist):
			// Still starting, socket not there yet.
		default:
			t.Fatal("Failed to ping Redis:", pingErr.Error())
		}
		select {
		case <-ticker.C:
		case <-r.bg.Done():
			if err := r.bg.Err(); err != nil {
				t.Fatal("Subprocess failed:", err)
			}
			t.Fatal("Redis exited during startup")
		}
	}
	t.Fatal("Failed to ping Redis:", pingErr)
}

// Reset wipes all keys, for reuse of one server across subtests.
func (r *Redis) Reset(ctx context.Context, t testing.TB) {
	if err := r.Client.FlushAll(ctx).Err(); err != nil {
		t.Fatal("Failed to flush Redis:", err)
	}
}

// Close shuts down the server and client and prints the log.
func (r *Redis) Close(t testing.TB) {
	t.Log("redistest: Removing", r.tempDir)
	r.bg.Close()
	_ = os.RemoveAll(r.tempDir)
}
