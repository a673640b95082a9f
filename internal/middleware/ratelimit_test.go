package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campus/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckRateLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		allowed, err := CheckRateLimit(ctx, rdb, "comments:write", "user:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "hit %d", i)
	}

	allowed, err := CheckRateLimit(ctx, rdb, "comments:write", "user:1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Another caller has its own window.
	allowed, err = CheckRateLimit(ctx, rdb, "comments:write", "user:2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.Equal(t, time.Minute, mr.TTL("rl:comments:write:user:1"))

	mr.FastForward(time.Minute + time.Second)
	allowed, err = CheckRateLimit(ctx, rdb, "comments:write", "user:1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheckRateLimit_NilRedis(t *testing.T) {
	allowed, err := CheckRateLimit(context.Background(), nil, "r", "1", 1, time.Minute)
	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }

	t.Run("limits per user", func(t *testing.T) {
		_, rdb := newTestRedis(t)
		app := fiber.New()
		app.Post("/comments", func(c *fiber.Ctx) error {
			c.Locals("userID", uint(9))
			return c.Next()
		}, RateLimit(rdb, RateLimitRule{Name: "comments:write", Limit: 2, Window: time.Minute}), ok)

		for i := 0; i < 2; i++ {
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/comments", nil))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			_ = resp.Body.Close()
		}

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/comments", nil))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "60", resp.Header.Get("Retry-After"))

		var body models.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, models.CodeRateLimited, body.Code)
	})

	t.Run("FailOpen with nil redis", func(t *testing.T) {
		app := fiber.New()
		app.Get("/test", RateLimit(nil, RateLimitRule{Limit: 1, Window: time.Minute}), ok)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("FailClosed with nil redis", func(t *testing.T) {
		app := fiber.New()
		app.Get("/sensitive", RateLimit(nil, RateLimitRule{Limit: 1, Window: time.Minute, Policy: FailClosed}), ok)

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sensitive", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		_ = resp.Body.Close()
	})
}
