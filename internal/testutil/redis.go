//go:build integration

package testutil

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// JobsDB is the Redis database integration tests use for job records.
const JobsDB = 9

// Redis is a flushed test database. Tests that need one call NewRedis;
// it skips the test when no instance is reachable.
type Redis struct {
	Addr   string
	DB     int
	Client *redis.Client
}

// NewRedis connects to the test instance (NETPUSH_TEST_REDIS_ADDR, or the
// netpush-test-redis container), flushes db and closes the client when
// the test ends.
func NewRedis(t *testing.T, db int) *Redis {
	t.Helper()

	addr := os.Getenv("NETPUSH_TEST_REDIS_ADDR")
	if addr == "" {
		addr = containerAddr("netpush-test-redis")
	}
	if addr == "" {
		t.Skip("test Redis not available: set NETPUSH_TEST_REDIS_ADDR or start netpush-test-redis")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", db, err)
	}
	return &Redis{Addr: addr, DB: db, Client: client}
}

func containerAddr(name string) string {
	out, err := exec.Command("docker", "inspect",
		"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
		name).Output()
	if err != nil {
		return ""
	}
	ip := strings.TrimSpace(string(out))
	if ip == "" {
		return ""
	}
	return ip + ":6379"
}

// KeyCount returns the number of keys in the database.
func (r *Redis) KeyCount(t *testing.T) int {
	t.Helper()
	n, err := r.Client.DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("counting keys in DB %d: %v", r.DB, err)
	}
	return int(n)
}

// KeyTTL returns the remaining time to live of key.
func (r *Redis) KeyTTL(t *testing.T, key string) time.Duration {
	t.Helper()
	ttl, err := r.Client.TTL(context.Background(), key).Result()
	if err != nil {
		t.Fatalf("reading TTL of %s: %v", key, err)
	}
	return ttl
}

// Context returns a context with a reasonable timeout for tests.
// The cancel function is registered via t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
