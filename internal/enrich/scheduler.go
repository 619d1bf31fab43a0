package enrich

import (
	"context"
	"log"
	"sync"
	"time"

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/snapshot"
)

// DetailClient is the slice of the Blocket client the scheduler needs.
type DetailClient interface {
	FetchDetails(ctx context.Context, adURL string) (*models.DetailPatch, error)
}

// Unit is one piece of enrichment work. Exactly one of Entry and Listing is
// set: Entry creates a new catalog row after its detail fetch, Listing fills
// gaps in an existing row.
type Unit struct {
	Entry   *snapshot.Entry
	Listing *models.Listing
	Seen    time.Time
}

// Result counts unit outcomes for one scheduler pass.
type Result struct {
	Created  int
	Enriched int
	NoData   int
	Failed   int
}

// Scheduler drains enrichment units through a fixed worker pool. Units are
// independent; one failing fetch never blocks or fails the others.
type Scheduler struct {
	store       catalog.Store
	client      DetailClient
	concurrency int
	workerDelay time.Duration
}

func NewScheduler(store catalog.Store, client DetailClient, cfg config.EnrichmentConfig) *Scheduler {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		store:       store,
		client:      client,
		concurrency: concurrency,
		workerDelay: cfg.GetWorkerDelay(),
	}
}

// Run processes every unit and returns the outcome counts. Workers pause for
// the configured delay between units to spread detail-page load.
func (s *Scheduler) Run(ctx context.Context, units []Unit) *Result {
	if len(units) == 0 {
		return &Result{}
	}

	log.Printf("Enrich: processing %d units with %d workers", len(units), s.concurrency)

	res := &Result{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan Unit)

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range work {
				outcome := s.process(ctx, unit)
				mu.Lock()
				res.Created += outcome.Created
				res.Enriched += outcome.Enriched
				res.NoData += outcome.NoData
				res.Failed += outcome.Failed
				mu.Unlock()

				if s.workerDelay > 0 {
					select {
					case <-time.After(s.workerDelay):
					case <-ctx.Done():
					}
				}
			}
		}()
	}

	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}
		work <- unit
	}
	close(work)
	wg.Wait()

	log.Printf("Enrich: %d created, %d enriched, %d no-data, %d failed",
		res.Created, res.Enriched, res.NoData, res.Failed)
	return res
}

func (s *Scheduler) process(ctx context.Context, unit Unit) Result {
	if unit.Entry != nil {
		return s.processCreate(ctx, unit)
	}
	return s.processFill(ctx, *unit.Listing)
}

// processCreate fetches the detail page for a new ad and inserts its catalog
// row. The row is created even when the fetch fails, so a flaky detail page
// never loses a sighting; the gaps are retried on later runs.
func (s *Scheduler) processCreate(ctx context.Context, unit Unit) Result {
	var res Result
	entry := unit.Entry
	listing := entry.Ad.ToListing(entry.Region, unit.Seen)

	patch, err := s.client.FetchDetails(ctx, listing.URL)
	if err != nil {
		log.Printf("Enrich: detail fetch failed for new ad %s: %v", listing.BlocketID, err)
		res.Failed++
	} else if listing.MergeDetails(patch) == 0 && patch.Empty() {
		s.applyNoData(listing, &res)
	} else {
		res.Enriched++
	}

	if err := s.store.CreateListing(listing); err != nil {
		log.Printf("Enrich: create failed for ad %s: %v", listing.BlocketID, err)
		res.Failed++
		return res
	}
	res.Created++
	return res
}

// processFill fetches the detail page for an existing listing and merges the
// patch under the nil-only rule.
func (s *Scheduler) processFill(ctx context.Context, listing models.Listing) Result {
	var res Result

	patch, err := s.client.FetchDetails(ctx, listing.URL)
	if err != nil {
		log.Printf("Enrich: detail fetch failed for %s: %v", listing.BlocketID, err)
		res.Failed++
		return res
	}

	written := listing.MergeDetails(patch)
	if written == 0 {
		if patch.Empty() && listing.Gearbox == nil {
			s.applyNoData(&listing, &res)
		} else {
			res.NoData++
			return res
		}
	} else {
		res.Enriched++
	}

	if err := s.store.SaveListing(&listing); err != nil {
		log.Printf("Enrich: save failed for %s: %v", listing.BlocketID, err)
		res.Failed++
		res.Enriched = 0
		res.NoData = 0
	}
	return res
}

// applyNoData stamps the sentinel that keeps a yield-nothing listing from
// being re-queued every run.
func (s *Scheduler) applyNoData(l *models.Listing, res *Result) {
	if l.Gearbox == nil {
		sentinel := models.GearboxNoData
		l.Gearbox = &sentinel
	}
	res.NoData++
}

// BuildUnits turns a reconciliation outcome into the unit list for one pass.
func BuildUnits(newEntries []snapshot.Entry, needsFill []models.Listing, seen time.Time) []Unit {
	units := make([]Unit, 0, len(newEntries)+len(needsFill))
	for i := range newEntries {
		units = append(units, Unit{Entry: &newEntries[i], Seen: seen})
	}
	for i := range needsFill {
		units = append(units, Unit{Listing: &needsFill[i], Seen: seen})
	}
	return units
}
