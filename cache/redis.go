package cache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClientFromEnv builds a Redis client from environment variables and
// verifies the connection. REDIS_ADDR defaults to localhost:6379 when unset;
// REDIS_DB and REDIS_PASSWORD are optional. REDIS_DISABLED=true yields
// (nil, nil) so callers can fall back to in-process state.
func NewClientFromEnv() (*redis.Client, error) {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("REDIS_DISABLED")), "true") {
		return nil, nil
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		addr = "localhost:6379"
	}
	password := os.Getenv("REDIS_PASSWORD")
	db := 0
	if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
		if parsed, err := strconv.Atoi(rawDB); err == nil {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis %s failed: %w", addr, err)
	}

	return client, nil
}
