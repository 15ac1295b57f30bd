package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/usageledger/pkg/ledger"
	"github.com/fluentvoice/usageledger/storage/memory"
)

func newTestRouter(t *testing.T, cfg Config) (*gongin.Engine, *ledger.Directory) {
	t.Helper()
	gongin.SetMode(gongin.TestMode)

	d, err := ledger.NewDirectory(memory.New(), ledger.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})

	cfg.Ledger = d
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromHeader("X-User-ID")
	}

	router := gongin.New()
	router.POST("/lesson", Middleware(cfg), func(c *gongin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return router, d
}

func TestMiddleware_Allows(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/lesson", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-Minutes-Remaining"))
}

func TestMiddleware_BlocksExhausted(t *testing.T) {
	router, d := newTestRouter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
		require.NoError(t, err)
		_, err = d.EndSession(ctx, "u1", start.SessionID, "")
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/lesson", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota_exhausted")
}

func TestMiddleware_Unauthorized(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/lesson", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_CustomStatusCode(t *testing.T) {
	router, d := newTestRouter(t, Config{ExhaustedStatusCode: http.StatusForbidden})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		start, err := d.StartSession(ctx, "u1", ledger.StartOptions{})
		require.NoError(t, err)
		_, err = d.EndSession(ctx, "u1", start.SessionID, "")
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/lesson", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFromContextKey(t *testing.T) {
	gongin.SetMode(gongin.TestMode)

	d, err := ledger.NewDirectory(memory.New(), ledger.Config{})
	require.NoError(t, err)
	defer func() { _ = d.Close(context.Background()) }()

	router := gongin.New()
	router.Use(func(c *gongin.Context) {
		c.Set("user_id", "u1")
	})
	router.POST("/lesson", Middleware(Config{
		Ledger:    d,
		GetUserID: FromContextKey("user_id"),
	}), func(c *gongin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/lesson", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_PanicsWithoutLedger(t *testing.T) {
	assert.Panics(t, func() {
		Middleware(Config{GetUserID: FromHeader("X-User-ID")})
	})
	d, err := ledger.NewDirectory(memory.New(), ledger.Config{})
	require.NoError(t, err)
	defer func() { _ = d.Close(context.Background()) }()
	assert.Panics(t, func() {
		Middleware(Config{Ledger: d})
	})
}
