package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventix/giftcard-api/internal/config"
	"github.com/eventix/giftcard-api/internal/middleware"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "test",
		StoreDriver:          config.StoreDriverMemory,
		JWTSecret:            "test-secret",
		JWTAccessTTL:         time.Hour,
		LockTimeout:          time.Second,
		GiftCardSecretLength: 16,
	}
}

func newTestServer(t *testing.T) (http.Handler, *app) {
	t.Helper()
	cfg := memoryConfig()
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	return newRouter(cfg, a), a
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestGiftCardFlowThroughRouter(t *testing.T) {
	router, a := newTestServer(t)
	token, err := a.jwt.GenerateAccessToken(uuid.New(), uuid.New(), []string{middleware.PermissionManageGiftCards})
	require.NoError(t, err)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/v1/giftcards", `{"currency":"EUR","value":"25.00"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data struct {
			ID     uuid.UUID `json:"id"`
			Secret string    `json:"secret"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Data.Secret, 16)

	w = do(http.MethodPost, "/api/v1/giftcards/"+created.Data.ID.String()+"/transactions", `{"value":"-30"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(http.MethodGet, "/api/v1/orders/ORD1/payments", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/api/v1/payments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	router, _ := newTestServer(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/giftcards", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBuildAppRejectsBadRedisURL(t *testing.T) {
	cfg := memoryConfig()
	cfg.RedisURL = "not a url"

	_, err := buildApp(context.Background(), cfg)
	assert.Error(t, err)
}
