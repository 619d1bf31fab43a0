package run

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"car-market-monitor/internal/blocket"
	"car-market-monitor/internal/catalog"
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

// fakeClient implements the full client surface with canned data.
type fakeClient struct {
	ads       map[string][]models.Ad // region -> ads
	patches   map[string]*models.DetailPatch
	searchErr error

	mu          sync.Mutex
	detailCalls map[string]int
}

func (f *fakeClient) SearchPage(_ context.Context, q blocket.Query) (*blocket.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &blocket.SearchResult{
		Ads:        f.ads[q.Region],
		TotalPages: 1,
		MatchCount: len(f.ads[q.Region]),
	}, nil
}

func (f *fakeClient) FetchDetails(_ context.Context, adURL string) (*models.DetailPatch, error) {
	f.mu.Lock()
	if f.detailCalls == nil {
		f.detailCalls = make(map[string]int)
	}
	f.detailCalls[adURL]++
	f.mu.Unlock()

	if p, ok := f.patches[adURL]; ok {
		return p, nil
	}
	return &models.DetailPatch{}, nil
}

func (f *fakeClient) CheckRemoved(_ context.Context, _ string) (string, error) {
	return "", nil
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Monitor.Regions = []string{"norrbotten"}
	cfg.Monitor.Makes = nil
	cfg.Monitor.SearchDelaySec = 0
	cfg.Fetch.PageDelayMs = 0
	cfg.Enrichment.WorkerDelayMs = 0
	return cfg
}

func TestExecuteFullRunEndToEnd(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		ads: map[string][]models.Ad{
			"norrbotten": {
				{BlocketID: "1", Make: "Volvo", Price: intPtr(150000), URL: "u1"},
				{BlocketID: "2", Make: "Saab", Price: intPtr(45000), URL: "u2"},
			},
		},
		patches: map[string]*models.DetailPatch{
			"u1": {Gearbox: strPtr("Automat"), City: strPtr("Luleå")},
		},
	}

	o := NewOrchestrator(store, client, testConfig(), nil)
	runLog, err := o.Execute(context.Background(), models.RunTypeFull)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, runLog.Status)
	assert.Equal(t, 2, runLog.Found)
	assert.Equal(t, 2, runLog.New)
	assert.NotNil(t, runLog.FinishedAt)

	// Both rows were created, one enriched and one with the sentinel.
	first, err := store.FindByBlocketID("1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "Automat", *first.Gearbox)

	second, err := store.FindByBlocketID("2")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, models.GearboxNoData, *second.Gearbox)

	// Full runs write market statistics.
	stats, err := store.MarketStatsForDate(time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, stats)
}

func TestExecuteSecondRunDetectsChanges(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		ads: map[string][]models.Ad{
			"norrbotten": {
				{BlocketID: "1", Make: "Volvo", Price: intPtr(150000), URL: "u1"},
				{BlocketID: "2", Make: "Saab", Price: intPtr(45000), URL: "u2"},
			},
		},
	}
	o := NewOrchestrator(store, client, testConfig(), nil)

	_, err := o.Execute(context.Background(), models.RunTypeFull)
	require.NoError(t, err)

	// Second run: ad 1 changes price, ad 2 disappears.
	client.ads["norrbotten"] = []models.Ad{
		{BlocketID: "1", Make: "Volvo", Price: intPtr(139000), URL: "u1"},
	}
	runLog, err := o.Execute(context.Background(), models.RunTypeFull)
	require.NoError(t, err)

	assert.Equal(t, 1, runLog.PriceChanges)
	assert.Equal(t, 1, runLog.Removed)

	gone, err := store.FindByBlocketID("2")
	require.NoError(t, err)
	assert.False(t, gone.IsActive())

	kept, err := store.FindByBlocketID("1")
	require.NoError(t, err)
	assert.Equal(t, 139000, *kept.Price)
}

func TestExecuteFailedSnapshotFinalizesRunAsFailed(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{searchErr: errors.New("connection refused")}

	o := NewOrchestrator(store, client, testConfig(), nil)
	runLog, err := o.Execute(context.Background(), models.RunTypeFull)
	require.Error(t, err)

	assert.Equal(t, models.RunStatusFailed, runLog.Status)
	assert.NotEmpty(t, runLog.ErrorMessage)
	require.NotNil(t, runLog.FinishedAt)

	// The failed run is still on record.
	runs, err := store.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestExecuteLightRunSkipsStats(t *testing.T) {
	store := newTestStore(t)
	client := &fakeClient{
		ads: map[string][]models.Ad{
			"norrbotten": {{BlocketID: "1", Make: "Volvo", Price: intPtr(1), URL: "u1"}},
		},
	}

	o := NewOrchestrator(store, client, testConfig(), nil)
	runLog, err := o.Execute(context.Background(), models.RunTypeLight)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, runLog.Status)

	stats, err := store.MarketStatsForDate(time.Now())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestQueriesExpandRegionsAndMakes(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Regions = []string{"norrbotten", "skane"}
	cfg.Monitor.Makes = []string{"volvo", "saab"}

	o := NewOrchestrator(nil, nil, cfg, nil)
	queries := o.queries()

	require.Len(t, queries, 4)
	assert.Equal(t, blocket.Query{Region: "norrbotten", Make: "volvo"}, queries[0])
	assert.Equal(t, blocket.Query{Region: "skane", Make: "saab"}, queries[3])

	cfg.Monitor.Makes = nil
	queries = o.queries()
	require.Len(t, queries, 2)
	assert.Equal(t, blocket.Query{Region: "norrbotten"}, queries[0])
}

func TestBackfillEnrichesUntilDone(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	for _, id := range []string{"1", "2", "3"} {
		l := &models.Listing{BlocketID: id, URL: "u" + id, FirstSeen: now, LastSeen: now}
		require.NoError(t, store.CreateListing(l))
	}

	client := &fakeClient{
		patches: map[string]*models.DetailPatch{
			"u1": {Gearbox: strPtr("Automat"), City: strPtr("Boden")},
			"u2": {Gearbox: strPtr("Manuell"), City: strPtr("Kiruna")},
			// u3 yields nothing and gets the sentinel.
		},
	}

	o := NewOrchestrator(store, client, testConfig(), nil)
	res, err := o.Backfill(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Enriched)
	assert.Equal(t, 1, res.NoData)

	remaining, err := store.ListNeedingDetails(0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestBackfillFetchesUnfillableListingOnce(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	// A real gearbox but no city: still pending, yet there is nothing the
	// sentinel can mark when the page keeps yielding nothing.
	gearbox := "Automat"
	l := &models.Listing{
		BlocketID: "1", URL: "u1", Gearbox: &gearbox,
		FirstSeen: now, LastSeen: now,
	}
	require.NoError(t, store.CreateListing(l))

	client := &fakeClient{} // every detail fetch returns an empty patch
	o := NewOrchestrator(store, client, testConfig(), nil)

	res, err := o.Backfill(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Enriched)
	assert.Equal(t, 1, res.NoData)
	assert.Equal(t, 1, client.detailCalls["u1"], "one invocation must fetch the page once")

	// The row is untouched and stays pending for the next invocation.
	found, err := store.FindByBlocketID("1")
	require.NoError(t, err)
	assert.Equal(t, "Automat", *found.Gearbox)
	assert.Nil(t, found.City)
	assert.True(t, found.NeedsDetails())
}
