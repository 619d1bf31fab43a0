package run

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"car-market-monitor/internal/blocket"
	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/enrich"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/reconcile"
	"car-market-monitor/internal/removal"
	"car-market-monitor/internal/search"
	"car-market-monitor/internal/snapshot"
	"car-market-monitor/internal/stats"
)

// Client is the full Blocket surface the pipeline phases consume.
// *blocket.Client implements it.
type Client interface {
	snapshot.SearchClient
	enrich.DetailClient
	removal.CheckClient
}

// Orchestrator sequences the pipeline phases for one run and owns the run's
// log row. Phase errors are absorbed into counters; only a failure that makes
// the whole run meaningless finalizes the run as failed.
type Orchestrator struct {
	store  catalog.Store
	client Client
	cfg    *config.Config
	// searcher is nil when the search mirror is disabled.
	searcher *search.SearchClient
}

func NewOrchestrator(store catalog.Store, client Client, cfg *config.Config, searcher *search.SearchClient) *Orchestrator {
	return &Orchestrator{
		store:    store,
		client:   client,
		cfg:      cfg,
		searcher: searcher,
	}
}

// Execute performs one run of the given type. The run log row is created in
// the running state before any fetch and finalized exactly once on the way
// out, whatever happens in between.
func (o *Orchestrator) Execute(ctx context.Context, runType string) (*models.RunLog, error) {
	runLog := &models.RunLog{
		RunType:   runType,
		Status:    models.RunStatusRunning,
		Regions:   strings.Join(o.cfg.Monitor.Regions, ","),
		Makes:     strings.Join(o.cfg.Monitor.Makes, ","),
		StartedAt: time.Now(),
	}
	if err := o.store.StartRun(runLog); err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	log.Printf("Run: starting %s run #%d (regions: %s)", runType, runLog.ID, runLog.Regions)

	runErr := o.execute(ctx, runType, runLog)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	runLog.Finish(errMsg)
	if err := o.store.FinishRun(runLog); err != nil {
		log.Printf("Run: failed to finalize run #%d: %v", runLog.ID, err)
	}

	log.Printf("Run: %s run #%d %s in %s: %d found, %d new, %d price changes, %d enriched, %d removed, %d errors",
		runType, runLog.ID, runLog.Status, time.Since(runLog.StartedAt).Round(time.Second),
		runLog.Found, runLog.New, runLog.PriceChanges, runLog.Enriched, runLog.Removed, runLog.Errors)

	return runLog, runErr
}

func (o *Orchestrator) execute(ctx context.Context, runType string, runLog *models.RunLog) error {
	seen := time.Now()

	builder := snapshot.NewBuilder(o.client, o.cfg.Fetch)
	builder.SetSearchDelay(o.cfg.Monitor.GetSearchDelay())
	snap, err := builder.Build(ctx, o.queries())
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	if len(snap.Entries) == 0 && snap.Truncated {
		// Every filter died; there is nothing to diff against.
		return fmt.Errorf("snapshot empty after transport failures")
	}

	reconciler := reconcile.NewReconciler(o.store)
	recRes := reconciler.Reconcile(snap)
	runLog.Found = recRes.Found
	runLog.New = recRes.New
	runLog.Updated = recRes.Unchanged + recRes.PriceChanged
	runLog.PriceChanges = recRes.PriceChanged
	runLog.Errors += recRes.Errors

	needsFill := recRes.NeedsFill
	if runType == models.RunTypeLight {
		// Light runs enrich new ads only; backfill waits for the full run.
		needsFill = nil
	}
	units := enrich.BuildUnits(recRes.NewEntries, needsFill, seen)
	scheduler := enrich.NewScheduler(o.store, o.client, o.cfg.Enrichment)
	enrRes := scheduler.Run(ctx, units)
	runLog.Enriched = enrRes.Enriched
	runLog.Errors += enrRes.Failed

	verifier := removal.NewVerifier(o.store, o.client, o.cfg.Removal)
	remRes := verifier.Run(ctx, snap, runType)
	runLog.Removed = remRes.Removed + remRes.Stale
	runLog.Errors += remRes.Errors

	if runType == models.RunTypeFull {
		aggregator := stats.NewAggregator(o.store)
		if _, err := aggregator.Aggregate(seen); err != nil {
			log.Printf("Run: market stats failed: %v", err)
			runLog.Errors++
		}
	}

	o.syncSearchIndex(remRes.RemovedIDs, runLog)
	return ctx.Err()
}

// queries expands the configured regions and makes into the filter list.
// An empty makes list means one unfiltered search per region.
func (o *Orchestrator) queries() []blocket.Query {
	var queries []blocket.Query
	for _, region := range o.cfg.Monitor.Regions {
		if len(o.cfg.Monitor.Makes) == 0 {
			queries = append(queries, blocket.Query{Region: region})
			continue
		}
		for _, mk := range o.cfg.Monitor.Makes {
			queries = append(queries, blocket.Query{Region: region, Make: mk})
		}
	}
	return queries
}

// syncSearchIndex mirrors the active catalog into Meilisearch after a run.
// Index errors never fail the run.
func (o *Orchestrator) syncSearchIndex(removedIDs []int64, runLog *models.RunLog) {
	if o.searcher == nil {
		return
	}

	active, err := o.store.ListActive()
	if err != nil {
		log.Printf("Run: index sync query failed: %v", err)
		runLog.Errors++
		return
	}
	if err := o.searcher.IndexListings(active); err != nil {
		log.Printf("Run: index sync failed: %v", err)
		runLog.Errors++
		return
	}
	if err := o.searcher.RemoveListings(removedIDs); err != nil {
		log.Printf("Run: index removal failed: %v", err)
		runLog.Errors++
	}
	log.Printf("Run: search index synced (%d active, %d removed)", len(active), len(removedIDs))
}

// Backfill enriches active listings with missing details outside a polling
// run, in batches. Each pending row is fetched exactly once per invocation:
// a detail page that yields nothing for an already-partially-filled row (no
// sentinel to write, nothing to save) stays pending for the next run instead
// of being refetched in a loop.
func (o *Orchestrator) Backfill(ctx context.Context) (*enrich.Result, error) {
	total := &enrich.Result{}
	scheduler := enrich.NewScheduler(o.store, o.client, o.cfg.Enrichment)

	pending, err := o.store.ListNeedingDetails(0)
	if err != nil {
		return total, fmt.Errorf("backfill query failed: %w", err)
	}
	log.Printf("Run: backfill over %d pending listings", len(pending))

	batchSize := o.cfg.Enrichment.BatchSize
	if batchSize <= 0 {
		batchSize = len(pending)
	}
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}

		units := enrich.BuildUnits(nil, pending[start:end], time.Now())
		res := scheduler.Run(ctx, units)
		total.Enriched += res.Enriched
		total.NoData += res.NoData
		total.Failed += res.Failed

		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	return total, nil
}
