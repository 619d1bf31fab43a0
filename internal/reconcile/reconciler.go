package reconcile

import (
	"fmt"
	"log"
	"time"

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/snapshot"
)

// Result summarizes one reconciliation pass and carries the work the
// enrichment phase still has to do.
type Result struct {
	Found        int
	New          int
	Unchanged    int
	PriceChanged int
	// Removed counts sightings of listings already marked removed. Removal is
	// terminal until purge, so these rows are left untouched.
	Removed int
	Errors  int

	// NewEntries are snapshot entries with no catalog row yet. Their rows are
	// created during enrichment so the first write already carries whatever
	// the detail page adds.
	NewEntries []snapshot.Entry
	// NeedsFill are existing active listings whose enrichment is incomplete.
	NeedsFill []models.Listing
}

// Reconciler diffs a snapshot against the catalog and applies the
// per-listing mutations that follow from the diff.
type Reconciler struct {
	store catalog.Store
}

func NewReconciler(store catalog.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile classifies every snapshot entry against the catalog. Each entry
// is handled independently; a store error on one entry is counted and the
// pass moves on.
func (r *Reconciler) Reconcile(snap *snapshot.Snapshot) *Result {
	res := &Result{Found: len(snap.Entries)}
	seen := snap.TakenAt

	for _, entry := range snap.Entries {
		if err := r.reconcileEntry(entry, seen, res); err != nil {
			log.Printf("Reconcile: ad %s: %v", entry.Ad.BlocketID, err)
			res.Errors++
		}
	}

	log.Printf("Reconcile: %d found, %d new, %d unchanged, %d price changes, %d removed, %d errors",
		res.Found, res.New, res.Unchanged, res.PriceChanged, res.Removed, res.Errors)
	return res
}

func (r *Reconciler) reconcileEntry(entry snapshot.Entry, seen time.Time, res *Result) error {
	ad := entry.Ad

	existing, err := r.store.FindByBlocketID(ad.BlocketID)
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	if existing == nil {
		res.New++
		res.NewEntries = append(res.NewEntries, entry)
		return nil
	}

	if !existing.IsActive() {
		// Removal is terminal until purge. A sighting of a removed listing is
		// logged but leaves the row alone; it usually means the aging fallback
		// or a bulk removal fired on an ad that was merely missing.
		log.Printf("Reconcile: ad %s is marked removed (%s), ignoring sighting",
			ad.BlocketID, existing.RemovedReason)
		res.Removed++
		return nil
	}

	// A null price on the search side is a parse gap, not a change; the
	// stored price stands and only last_seen advances.
	switch {
	case ad.Price == nil || (existing.Price != nil && *existing.Price == *ad.Price):
		if err := r.store.TouchLastSeen(existing.ID, seen); err != nil {
			return fmt.Errorf("touch failed: %w", err)
		}
		res.Unchanged++
	case existing.Price == nil:
		// First observed price for a row created during a parse gap. Recorded
		// as an event but not counted as a change.
		if err := r.store.UpdatePrice(existing.ID, *ad.Price, seen); err != nil {
			return fmt.Errorf("price set failed: %w", err)
		}
		res.Unchanged++
	default:
		log.Printf("Reconcile: price change for %s %s (%s): %d -> %d kr",
			existing.Make, existing.Model, existing.BlocketID, *existing.Price, *ad.Price)
		if err := r.store.UpdatePrice(existing.ID, *ad.Price, seen); err != nil {
			return fmt.Errorf("price update failed: %w", err)
		}
		res.PriceChanged++
	}

	r.queueFill(existing, res)
	return nil
}

func (r *Reconciler) queueFill(l *models.Listing, res *Result) {
	if l.NeedsDetails() {
		res.NeedsFill = append(res.NeedsFill, *l)
	}
}
