package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRedis holds test Redis resources.
type TestRedis struct {
	Container testcontainers.Container
	Client    *goredis.Client
}

// SetupTestRedis starts a Redis container and returns a connected client.
func SetupTestRedis(t *testing.T) *TestRedis {
	t.Helper()
	ctx := context.Background()

	container, err := redismodule.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get Redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("Failed to get Redis port: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	return &TestRedis{Container: container, Client: client}
}

// Cleanup closes the client and terminates the container.
func (tr *TestRedis) Cleanup() {
	ctx := context.Background()

	if tr.Client != nil {
		_ = tr.Client.Close()
	}
	if tr.Container != nil {
		_ = tr.Container.Terminate(ctx)
	}
}

// Flush clears all keys between test cases.
func (tr *TestRedis) Flush(t *testing.T) {
	t.Helper()

	if err := tr.Client.FlushAll(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to flush Redis: %v", err)
	}
}
