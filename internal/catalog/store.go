package catalog

import (
	"time"

	"car-market-monitor/internal/models"
)

// Store is the persisted catalog consumed by the reconciliation pipeline.
// All mutations are independent per-listing upserts or log appends, so a
// retried run converges without cross-listing coordination.
type Store interface {
	Init() error
	Close() error

	// FindByBlocketID returns nil without error when no row exists.
	FindByBlocketID(blocketID string) (*models.Listing, error)
	// CreateListing inserts a new row and, when a price is present, the
	// initial price event.
	CreateListing(l *models.Listing) error
	// SaveListing persists the full current state of an existing row.
	SaveListing(l *models.Listing) error
	// TouchLastSeen advances last_seen without touching anything else.
	TouchLastSeen(id int64, seen time.Time) error
	// UpdatePrice stores the new price, advances last_seen and appends a
	// price event, atomically.
	UpdatePrice(id int64, price int, seen time.Time) error
	AppendPriceEvent(listingID int64, price int, observedAt time.Time) error
	PriceEvents(listingID int64) ([]models.PriceEvent, error)

	ListActive() ([]models.Listing, error)
	ListActiveNotSeenSince(cutoff time.Time) ([]models.Listing, error)
	// ListNeedingDetails returns active listings whose enrichment re-trigger
	// condition holds. A limit of zero means no limit.
	ListNeedingDetails(limit int) ([]models.Listing, error)

	MarkRemoved(id int64, reason string) error
	// BulkMarkRemoved marks every given id removed and returns how many rows
	// actually changed state.
	BulkMarkRemoved(ids []int64, reason string) (int64, error)

	StartRun(run *models.RunLog) error
	FinishRun(run *models.RunLog) error
	RecentRuns(limit int) ([]models.RunLog, error)

	UpsertMarketStat(stat *models.MarketStat) error
	MarketStatsForDate(date time.Time) ([]models.MarketStat, error)

	ListRemovedBefore(cutoff time.Time) ([]models.Listing, error)
	// DeleteListing physically deletes a listing, its price events and
	// writes a delete-log row, atomically.
	DeleteListing(l *models.Listing, reason string) error
}
