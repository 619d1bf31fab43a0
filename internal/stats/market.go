package stats

import (
	"log"
	"sort"
	"time"

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/models"
)

// Aggregator computes the daily per-group market statistics from the active
// catalog. Price-less listings count toward listing and seller totals but not
// toward the price aggregates.
type Aggregator struct {
	store catalog.Store
}

func NewAggregator(store catalog.Store) *Aggregator {
	return &Aggregator{store: store}
}

type group struct {
	region string
	make_  string
}

// Aggregate computes and upserts today's stats for every (region, make) pair
// present in the active set. Returns the number of groups written.
func (a *Aggregator) Aggregate(date time.Time) (int, error) {
	active, err := a.store.ListActive()
	if err != nil {
		return 0, err
	}

	groups := make(map[group][]models.Listing)
	for _, l := range active {
		g := group{region: l.Region, make_: l.Make}
		groups[g] = append(groups[g], l)
	}

	statDate := date.Truncate(24 * time.Hour)
	written := 0
	for g, listings := range groups {
		stat := buildStat(statDate, g, listings)
		if err := a.store.UpsertMarketStat(stat); err != nil {
			log.Printf("Stats: upsert failed for %s/%s: %v", g.region, g.make_, err)
			continue
		}
		written++
	}

	log.Printf("Stats: wrote %d groups from %d active listings", written, len(active))
	return written, nil
}

func buildStat(date time.Time, g group, listings []models.Listing) *models.MarketStat {
	stat := &models.MarketStat{
		StatDate:     date,
		Region:       g.region,
		Make:         g.make_,
		ListingCount: len(listings),
	}

	var prices []int
	for _, l := range listings {
		if l.Price != nil {
			prices = append(prices, *l.Price)
		}
		switch l.SellerType {
		case models.SellerTypeDealer:
			stat.DealerCount++
		case models.SellerTypePrivate:
			stat.PrivateCount++
		}
	}

	if len(prices) > 0 {
		sort.Ints(prices)
		min := prices[0]
		max := prices[len(prices)-1]
		mean := sum(prices) / len(prices)
		median := medianOf(prices)
		stat.MinPrice = &min
		stat.MaxPrice = &max
		stat.MeanPrice = &mean
		stat.MedianPrice = &median
	}

	return stat
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

// medianOf expects a sorted slice.
func medianOf(xs []int) int {
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
