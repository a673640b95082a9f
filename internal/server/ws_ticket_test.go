package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campus/internal/cache"
	"campus/internal/models"
	"campus/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueWSTicket(t *testing.T) {
	env := newTestEnv(t)
	instructor := env.fx.User(models.RoleInstructor)

	status, body := env.do(t, http.MethodPost, "/api/ws/ticket", env.token(t, instructor), nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.NotEmpty(t, resp.Ticket)
	assert.Equal(t, 30, resp.ExpiresIn)

	key := cache.WSTicketKey(resp.Ticket)
	stored, err := env.mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d:instructor", instructor.ID), stored)
	assert.Equal(t, 30*time.Second, env.mr.TTL(key))

	status, _ = env.do(t, http.MethodPost, "/api/ws/ticket", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestIssueWSTicket_WithoutRedis(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	srv, err := NewServerWithDeps(testConfig(), db, nil)
	require.NoError(t, err)
	env := &testEnv{srv: srv, app: srv.App(), db: db, fx: testutil.NewFixtures(t, db)}

	status, _ := env.do(t, http.MethodPost, "/api/ws/ticket", env.token(t, env.fx.User(models.RoleStudent)), nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAuthRequired_WSTicket(t *testing.T) {
	env := newTestEnv(t)
	app := fiber.New()
	app.Get("/api/ws/test", env.srv.AuthRequired(), func(c *fiber.Ctx) error {
		userID, role := currentUser(c)
		return c.JSON(fiber.Map{"userID": userID, "role": role})
	})
	app.Get("/api/other", env.srv.AuthRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	ctx := context.Background()
	put := func(ticket, value string) {
		require.NoError(t, env.rdb.Set(ctx, cache.WSTicketKey(ticket), value, time.Minute).Err())
	}
	get := func(path string) *http.Response {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("valid ticket is single use", func(t *testing.T) {
		put("t-1", "123:admin")

		resp := get("/api/ws/test?ticket=t-1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, float64(123), body["userID"])
		assert.Equal(t, "admin", body["role"])

		exists, err := env.rdb.Exists(ctx, cache.WSTicketKey("t-1")).Result()
		require.NoError(t, err)
		assert.Zero(t, exists)

		assert.Equal(t, http.StatusUnauthorized, get("/api/ws/test?ticket=t-1").StatusCode)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, get("/api/ws/test?ticket=missing").StatusCode)
	})

	t.Run("malformed ticket value", func(t *testing.T) {
		put("t-2", "not-a-user")
		assert.Equal(t, http.StatusUnauthorized, get("/api/ws/test?ticket=t-2").StatusCode)
	})

	t.Run("expired ticket", func(t *testing.T) {
		put("t-3", "5:student")
		env.mr.FastForward(2 * time.Minute)
		assert.Equal(t, http.StatusUnauthorized, get("/api/ws/test?ticket=t-3").StatusCode)
	})

	t.Run("tickets are not accepted outside websocket routes", func(t *testing.T) {
		put("t-4", "5:student")
		assert.Equal(t, http.StatusUnauthorized, get("/api/other?ticket=t-4").StatusCode)

		exists, err := env.rdb.Exists(ctx, cache.WSTicketKey("t-4")).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
	})
}
