package enrich

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

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/snapshot"
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

// fakeDetails returns a canned patch per URL.
type fakeDetails struct {
	mu      sync.Mutex
	patches map[string]*models.DetailPatch
	errs    map[string]error
	calls   int
}

func (f *fakeDetails) FetchDetails(_ context.Context, adURL string) (*models.DetailPatch, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err, ok := f.errs[adURL]; ok {
		return nil, err
	}
	if p, ok := f.patches[adURL]; ok {
		return p, nil
	}
	return &models.DetailPatch{}, nil
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func testCfg() config.EnrichmentConfig {
	return config.EnrichmentConfig{Concurrency: 2, WorkerDelayMs: 0, BatchSize: 100}
}

func createUnit(blocketID, url string) Unit {
	return Unit{
		Entry: &snapshot.Entry{
			Ad:     models.Ad{BlocketID: blocketID, Make: "Volvo", Price: intPtr(100000), URL: url},
			Region: "norrbotten",
		},
		Seen: time.Now(),
	}
}

func TestCreateUnitMergesDetailsBeforeInsert(t *testing.T) {
	store := newTestStore(t)
	client := &fakeDetails{patches: map[string]*models.DetailPatch{
		"u1": {Gearbox: strPtr("Automat"), City: strPtr("Luleå")},
	}}

	s := NewScheduler(store, client, testCfg())
	res := s.Run(context.Background(), []Unit{createUnit("100", "u1")})

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Enriched)

	found, err := store.FindByBlocketID("100")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Automat", *found.Gearbox)
	assert.Equal(t, "Luleå", *found.City)

	// The first write already carries the details, and the price event exists.
	events, err := store.PriceEvents(found.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCreateUnitOnFetchFailureStillCreates(t *testing.T) {
	store := newTestStore(t)
	client := &fakeDetails{errs: map[string]error{"u1": errors.New("timeout")}}

	s := NewScheduler(store, client, testCfg())
	res := s.Run(context.Background(), []Unit{createUnit("200", "u1")})

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Failed)

	found, err := store.FindByBlocketID("200")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Nil(t, found.Gearbox, "a failed fetch must leave enrichment open for retry")
}

func TestCreateUnitEmptyPatchSetsSentinel(t *testing.T) {
	store := newTestStore(t)
	client := &fakeDetails{} // always returns an empty patch

	s := NewScheduler(store, client, testCfg())
	res := s.Run(context.Background(), []Unit{createUnit("300", "u1")})

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.NoData)

	found, err := store.FindByBlocketID("300")
	require.NoError(t, err)
	require.NotNil(t, found.Gearbox)
	assert.Equal(t, models.GearboxNoData, *found.Gearbox)
	assert.False(t, found.NeedsDetails())
}

func TestFillUnitMonotonicMerge(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	existing := &models.Listing{
		BlocketID: "400",
		Gearbox:   strPtr("Manuell"),
		URL:       "u1",
		FirstSeen: now,
		LastSeen:  now,
	}
	require.NoError(t, store.CreateListing(existing))

	client := &fakeDetails{patches: map[string]*models.DetailPatch{
		"u1": {Gearbox: strPtr("Automat"), City: strPtr("Piteå")},
	}}

	s := NewScheduler(store, client, testCfg())
	res := s.Run(context.Background(), []Unit{{Listing: existing, Seen: now}})

	assert.Equal(t, 1, res.Enriched)

	found, err := store.FindByBlocketID("400")
	require.NoError(t, err)
	assert.Equal(t, "Manuell", *found.Gearbox, "existing values are never overwritten")
	assert.Equal(t, "Piteå", *found.City)
}

func TestFillUnitFailureLeavesRowUntouched(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	existing := &models.Listing{BlocketID: "500", URL: "u1", FirstSeen: now, LastSeen: now}
	require.NoError(t, store.CreateListing(existing))

	client := &fakeDetails{errs: map[string]error{"u1": errors.New("blocked")}}

	s := NewScheduler(store, client, testCfg())
	res := s.Run(context.Background(), []Unit{{Listing: existing, Seen: now}})

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Enriched)

	found, err := store.FindByBlocketID("500")
	require.NoError(t, err)
	assert.Nil(t, found.Gearbox)
	assert.True(t, found.NeedsDetails())
}

func TestOneFailureDoesNotBlockOtherUnits(t *testing.T) {
	store := newTestStore(t)
	client := &fakeDetails{
		patches: map[string]*models.DetailPatch{"u2": {Gearbox: strPtr("Automat")}},
		errs:    map[string]error{"u1": errors.New("reset")},
	}

	s := NewScheduler(store, client, testCfg())
	res := s.Run(context.Background(), []Unit{
		createUnit("600", "u1"),
		createUnit("601", "u2"),
	})

	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Enriched)
	assert.Equal(t, 2, client.calls)
}

func TestBuildUnits(t *testing.T) {
	entries := []snapshot.Entry{{Ad: models.Ad{BlocketID: "1"}}}
	fills := []models.Listing{{BlocketID: "2"}, {BlocketID: "3"}}

	units := BuildUnits(entries, fills, time.Now())

	require.Len(t, units, 3)
	assert.NotNil(t, units[0].Entry)
	assert.Nil(t, units[0].Listing)
	assert.NotNil(t, units[1].Listing)
	assert.Equal(t, "3", units[2].Listing.BlocketID)
}

func TestRunEmptyUnits(t *testing.T) {
	s := NewScheduler(newTestStore(t), &fakeDetails{}, testCfg())
	res := s.Run(context.Background(), nil)
	assert.Equal(t, &Result{}, res)
}
