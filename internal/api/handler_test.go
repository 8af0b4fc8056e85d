package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"workshop-sync/internal/backing"
	"workshop-sync/internal/models"
	"workshop-sync/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore satisfies backing.Store with empty results, enough to drive the
// routing layer.
type stubStore struct{}

func (stubStore) Select(context.Context, string, backing.SelectOptions) ([]models.Row, error) {
	return nil, nil
}

func (stubStore) Insert(_ context.Context, _ string, payload models.Row) (models.Row, error) {
	return payload, nil
}

func (stubStore) Update(_ context.Context, _ string, id string, _ models.Row) (models.Row, error) {
	return models.Row{"id": id}, nil
}

func (stubStore) Delete(context.Context, string, string) error { return nil }

func newTestRouter() (*gin.Engine, *session.Session) {
	gin.SetMode(gin.TestMode)
	sess := session.New(stubStore{}, session.Options{})
	router := gin.New()
	NewHandler(sess).SetupRoutes(router)
	return router, sess
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClearSearchRoute(t *testing.T) {
	router, sess := newTestRouter()

	require.NoError(t, sess.Overlay.SearchNow(context.Background(), "omar"))
	require.True(t, sess.Overlay.Active())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/clear-search", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sess.Overlay.Active())
}

func TestClearRangeRoute(t *testing.T) {
	router, sess := newTestRouter()

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, sess.Overlay.ByDateRange(context.Background(), start, start.AddDate(0, 0, 1)))
	require.True(t, sess.Overlay.Active())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/clear-range", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, sess.Overlay.Active())
}
