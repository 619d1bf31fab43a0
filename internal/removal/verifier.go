package removal

import (
	"context"
	"log"
	"math/rand"
	"time"

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/snapshot"
)

// CheckClient is the slice of the Blocket client used to verify single ads.
type CheckClient interface {
	CheckRemoved(ctx context.Context, adURL string) (string, error)
}

// Result counts one removal pass.
type Result struct {
	Missing int
	Removed int
	Stale   int
	Errors  int
	// RemovedIDs are the catalog ids retired in this pass, for downstream
	// consumers like the search index.
	RemovedIDs []int64
	// Skipped is set when the snapshot was truncated and absence-based
	// removal stood down for the run.
	Skipped bool
}

// Verifier retires catalog rows that have left the market. Absence from an
// exhaustive snapshot is the primary signal; a last-seen age threshold is the
// fallback that catches what slips past a skipped or partial pass.
type Verifier struct {
	store  catalog.Store
	client CheckClient
	cfg    config.RemovalConfig
}

func NewVerifier(store catalog.Store, client CheckClient, cfg config.RemovalConfig) *Verifier {
	return &Verifier{store: store, client: client, cfg: cfg}
}

// Run applies the configured removal policy against one snapshot, then the
// aging fallback. A truncated snapshot proves nothing about absence, so the
// snapshot-based phase is skipped and only aging runs.
func (v *Verifier) Run(ctx context.Context, snap *snapshot.Snapshot, runType string) *Result {
	res := &Result{}

	if snap.Truncated {
		log.Printf("Removal: snapshot truncated, skipping absence-based removal")
		res.Skipped = true
	} else {
		v.removeMissing(ctx, snap, res)
	}

	v.removeStale(runType, res)

	log.Printf("Removal: %d missing, %d removed, %d stale, %d errors (skipped=%v)",
		res.Missing, res.Removed, res.Stale, res.Errors, res.Skipped)
	return res
}

func (v *Verifier) removeMissing(ctx context.Context, snap *snapshot.Snapshot, res *Result) {
	active, err := v.store.ListActive()
	if err != nil {
		log.Printf("Removal: listing active rows failed: %v", err)
		res.Errors++
		return
	}

	seen := snap.IDs()
	var missing []models.Listing
	for _, l := range active {
		if !seen[l.BlocketID] {
			missing = append(missing, l)
		}
	}
	res.Missing = len(missing)
	if len(missing) == 0 {
		return
	}

	if v.cfg.Policy == config.RemovalPolicyVerify {
		v.verifyAndMark(ctx, missing, res)
		return
	}

	// Bulk policy: the snapshot is exhaustive, so absence alone is enough.
	ids := make([]int64, len(missing))
	for i, l := range missing {
		ids[i] = l.ID
	}
	marked, err := v.store.BulkMarkRemoved(ids, models.RemovedReasonSold)
	if err != nil {
		log.Printf("Removal: bulk mark failed: %v", err)
		res.Errors++
		return
	}
	res.Removed += int(marked)
	res.RemovedIDs = append(res.RemovedIDs, ids...)
}

// verifyAndMark re-fetches each missing ad's page before retiring it. A page
// that still renders live, or that cannot be fetched, leaves the row active
// for a later run to settle.
func (v *Verifier) verifyAndMark(ctx context.Context, missing []models.Listing, res *Result) {
	sample := missing
	if v.cfg.VerifySampleSize > 0 && len(sample) > v.cfg.VerifySampleSize {
		shuffled := make([]models.Listing, len(missing))
		copy(shuffled, missing)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		sample = shuffled[:v.cfg.VerifySampleSize]
	}

	for _, l := range sample {
		if ctx.Err() != nil {
			return
		}
		reason, err := v.client.CheckRemoved(ctx, l.URL)
		if err != nil {
			log.Printf("Removal: verify fetch failed for %s, keeping active: %v", l.BlocketID, err)
			res.Errors++
			continue
		}
		if reason == "" {
			continue
		}
		if err := v.store.MarkRemoved(l.ID, reason); err != nil {
			log.Printf("Removal: mark failed for %s: %v", l.BlocketID, err)
			res.Errors++
			continue
		}
		log.Printf("Removal: %s %s (%s) verified %s", l.Make, l.Model, l.BlocketID, reason)
		res.Removed++
		res.RemovedIDs = append(res.RemovedIDs, l.ID)
	}
}

// removeStale retires rows whose last sighting is older than the configured
// threshold for this run type. This catches listings that absence-based
// removal missed across several runs.
func (v *Verifier) removeStale(runType string, res *Result) {
	cutoff := time.Now().Add(-v.cfg.NotSeenThreshold(runType))
	stale, err := v.store.ListActiveNotSeenSince(cutoff)
	if err != nil {
		log.Printf("Removal: stale query failed: %v", err)
		res.Errors++
		return
	}
	if len(stale) == 0 {
		return
	}

	ids := make([]int64, len(stale))
	for i, l := range stale {
		ids[i] = l.ID
	}
	marked, err := v.store.BulkMarkRemoved(ids, models.RemovedReasonStale)
	if err != nil {
		log.Printf("Removal: stale mark failed: %v", err)
		res.Errors++
		return
	}
	res.Stale += int(marked)
	res.RemovedIDs = append(res.RemovedIDs, ids...)
}
