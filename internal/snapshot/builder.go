package snapshot

import (
	"context"
	"log"
	"time"

	"car-market-monitor/internal/blocket"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
)

// SearchClient is the slice of the Blocket client the builder needs.
type SearchClient interface {
	SearchPage(ctx context.Context, q blocket.Query) (*blocket.SearchResult, error)
}

// Entry is one deduplicated ad together with the filter that first produced it.
type Entry struct {
	Ad     models.Ad
	Region string
}

// Snapshot is the deduplicated union of all configured searches at one point
// in time. Truncated is set when any filter stopped early on a transport
// failure, which means absence from this snapshot proves nothing.
type Snapshot struct {
	Entries   []Entry
	TakenAt   time.Time
	Truncated bool
	// MatchCount is the sum of the result counts the site reported per filter.
	MatchCount int
}

// IDs returns the set of ad ids present in the snapshot.
func (s *Snapshot) IDs() map[string]bool {
	ids := make(map[string]bool, len(s.Entries))
	for _, e := range s.Entries {
		ids[e.Ad.BlocketID] = true
	}
	return ids
}

// Builder walks every configured filter page by page and collects one
// deduplicated snapshot of the live market.
type Builder struct {
	client      SearchClient
	pageDelay   time.Duration
	searchDelay time.Duration
	maxPages    int
}

func NewBuilder(client SearchClient, fetch config.FetchConfig) *Builder {
	return &Builder{
		client:    client,
		pageDelay: fetch.GetPageDelay(),
		maxPages:  fetch.MaxPages,
	}
}

// SetSearchDelay sets the pause between consecutive filters.
func (b *Builder) SetSearchDelay(d time.Duration) {
	b.searchDelay = d
}

// Build runs every filter sequentially and merges the results. When the same
// ad appears under several filters, the first occurrence wins; later ones are
// dropped without touching the kept entry.
func (b *Builder) Build(ctx context.Context, queries []blocket.Query) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: time.Now()}
	seen := make(map[string]bool)

	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && b.searchDelay > 0 {
			select {
			case <-time.After(b.searchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		count, err := b.collectFilter(ctx, q, seen, snap)
		if err != nil {
			// A filter that dies mid-pagination leaves the snapshot partial.
			// Keep what we have but flag it so removal detection stands down.
			log.Printf("Snapshot: filter region=%s make=%s failed after %d ads: %v",
				q.Region, q.Make, count, err)
			snap.Truncated = true
		}
	}

	log.Printf("Snapshot: %d unique ads across %d filters (truncated=%v)",
		len(snap.Entries), len(queries), snap.Truncated)
	return snap, nil
}

// collectFilter paginates one filter until the last page, an empty page, or
// the page cap. Returns how many ads it contributed.
func (b *Builder) collectFilter(ctx context.Context, q blocket.Query, seen map[string]bool, snap *Snapshot) (int, error) {
	added := 0
	totalPages := 1

	for page := 1; page <= totalPages; page++ {
		if b.maxPages > 0 && page > b.maxPages {
			log.Printf("Snapshot: region=%s make=%s hit page cap %d of %d reported pages",
				q.Region, q.Make, b.maxPages, totalPages)
			break
		}

		q.Page = page
		result, err := b.client.SearchPage(ctx, q)
		if err != nil {
			return added, err
		}

		if page == 1 {
			totalPages = result.TotalPages
			snap.MatchCount += result.MatchCount
		}

		// An empty page before the reported end means the result set shrank
		// under us; nothing further to read.
		if len(result.Ads) == 0 {
			break
		}

		for _, ad := range result.Ads {
			if seen[ad.BlocketID] {
				continue
			}
			seen[ad.BlocketID] = true
			snap.Entries = append(snap.Entries, Entry{Ad: ad, Region: q.Region})
			added++
		}

		if page < totalPages && b.pageDelay > 0 {
			select {
			case <-time.After(b.pageDelay):
			case <-ctx.Done():
				return added, ctx.Err()
			}
		}
	}

	return added, nil
}
