package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/cleanup"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
)

func newTestStore(t *testing.T) *catalog.GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := catalog.NewGormStore(db)
	require.NoError(t, store.Init())
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRouter(t *testing.T, store catalog.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cleanupService := cleanup.NewService(store, config.CleanupConfig{RetentionDays: 90, MaxDeletionCount: 100})
	h := NewAPIHandler(store, nil, nil, cleanupService)
	return NewRouter(h, config.APIConfig{AllowOrigins: []string{"*"}})
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func intPtr(i int) *int { return &i }

func seedListing(t *testing.T, store catalog.Store, id, region, mk string, price *int) *models.Listing {
	t.Helper()
	now := time.Now()
	l := &models.Listing{
		BlocketID:  id,
		Make:       mk,
		Region:     region,
		Price:      price,
		SellerType: models.SellerTypePrivate,
		FirstSeen:  now,
		LastSeen:   now,
	}
	require.NoError(t, store.CreateListing(l))
	return l
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, newTestStore(t))
	w := doRequest(t, router, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestListListingsFiltersAndPaginates(t *testing.T) {
	store := newTestStore(t)
	seedListing(t, store, "1", "norrbotten", "Volvo", intPtr(100000))
	seedListing(t, store, "2", "norrbotten", "Saab", intPtr(50000))
	seedListing(t, store, "3", "skane", "Volvo", intPtr(200000))
	router := newTestRouter(t, store)

	w := doRequest(t, router, http.MethodGet, "/api/listings")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["total"])

	// Region filter is case insensitive.
	w = doRequest(t, router, http.MethodGet, "/api/listings?region=Norrbotten")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["total"])

	w = doRequest(t, router, http.MethodGet, "/api/listings?region=norrbotten&make=saab")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	// Pagination past the end returns an empty page, not an error.
	w = doRequest(t, router, http.MethodGet, "/api/listings?limit=2&offset=2")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["listings"], 1)

	w = doRequest(t, router, http.MethodGet, "/api/listings?offset=99")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["listings"], 0)
}

func TestGetListing(t *testing.T) {
	store := newTestStore(t)
	seedListing(t, store, "123", "norrbotten", "Volvo", intPtr(100000))
	router := newTestRouter(t, store)

	w := doRequest(t, router, http.MethodGet, "/api/listings/123")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Volvo", decode(t, w)["make"])

	w = doRequest(t, router, http.MethodGet, "/api/listings/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPriceHistory(t *testing.T) {
	store := newTestStore(t)
	l := seedListing(t, store, "123", "norrbotten", "Volvo", intPtr(100000))
	require.NoError(t, store.UpdatePrice(l.ID, 95000, time.Now()))
	router := newTestRouter(t, store)

	w := doRequest(t, router, http.MethodGet, "/api/listings/123/prices")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "123", body["blocket_id"])
	assert.EqualValues(t, 2, body["count"])

	w = doRequest(t, router, http.MethodGet, "/api/listings/nope/prices")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRuns(t *testing.T) {
	store := newTestStore(t)
	runLog := &models.RunLog{RunType: models.RunTypeFull, Status: models.RunStatusRunning, StartedAt: time.Now()}
	require.NoError(t, store.StartRun(runLog))
	router := newTestRouter(t, store)

	w := doRequest(t, router, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestGetMarketStatsRejectsBadDate(t *testing.T) {
	router := newTestRouter(t, newTestStore(t))
	w := doRequest(t, router, http.MethodGet, "/api/stats?date=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchUnavailableWithoutSearcher(t *testing.T) {
	router := newTestRouter(t, newTestStore(t))

	w := doRequest(t, router, http.MethodGet, "/api/search?q=volvo")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(t, router, http.MethodGet, "/api/filter?region=norrbotten")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTriggerRunUnavailableWithoutScheduler(t *testing.T) {
	router := newTestRouter(t, newTestStore(t))
	w := doRequest(t, router, http.MethodPost, "/api/admin/run?type=full")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTriggerPurge(t *testing.T) {
	router := newTestRouter(t, newTestStore(t))
	w := doRequest(t, router, http.MethodPost, "/api/admin/purge")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["target_count"])
}
