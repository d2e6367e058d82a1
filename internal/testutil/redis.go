package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis returns a flushed Redis client on a DB index reserved for
// this test run, so the seen-cache tests in different packages cannot trample
// each other. Tests skip when Redis is unreachable unless TEST_REQUIRE_REDIS
// (or TEST_REQUIRE_INFRA) is set.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := findTestRedis(t)
	if !ok {
		if requireRedis() {
			t.Fatal("redis required but unreachable")
		}
		t.Skip("redis not reachable, start it with docker-compose up -d")
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   reserveRedisDB(t, addr),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if requireRedis() {
			t.Fatalf("redis required but unreachable at %s: %v", addr, err)
		}
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	client.FlushDB(ctx)
	return client
}

// findTestRedis tries REDIS_ADDR, then the usual CI hostnames, then the
// docker-compose test instance on 56379.
func findTestRedis(t TestingTB) (string, bool) {
	t.Helper()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr, redisReachable(t, addr)
	}

	for _, addr := range []string{"redis:6379", "localhost:6379"} {
		if redisReachable(t, addr) {
			return addr, true
		}
	}

	const local = "localhost:56379"
	return local, redisReachable(t, local)
}

func redisReachable(t TestingTB, addr string) bool {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("close redis probe client: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return client.Ping(ctx).Err() == nil
}

// reserveRedisDB picks a DB index in [1..15] for this test run. The
// reservation lock lives in DB 0, which FlushDB on the selected test DB never
// touches. TEST_REDIS_DB short-circuits the selection.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer func() {
		if err := meta.Close(); err != nil {
			t.Logf("close redis meta client: %v", err)
		}
	}()

	for i := 1; i <= 15; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lockKey := fmt.Sprintf("catalogd:testutil:db_lock:%d", i)
		lockVal := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
		ok, err := meta.SetNX(ctx, lockKey, lockVal, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}

		releaseRedisLockOnCleanup(t, addr, lockKey)
		return i
	}

	t.Logf("no free redis test DB at %s, sharing DB 1", addr)
	return 1
}

func releaseRedisLockOnCleanup(t TestingTB, addr, lockKey string) {
	tc, ok := any(t).(interface{ Cleanup(func()) })
	if !ok {
		return
	}

	tc.Cleanup(func() {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Del(ctx, lockKey).Err(); err != nil {
			t.Logf("release redis db lock %s: %v", lockKey, err)
		}
		if err := client.Close(); err != nil {
			t.Logf("close redis cleanup client: %v", err)
		}
	})
}
