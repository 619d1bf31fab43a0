package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-market-monitor/internal/blocket"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
)

// fakeSearch serves canned pages per region and records the requests made.
type fakeSearch struct {
	pages map[string][]*blocket.SearchResult // region -> pages, index = page-1
	errOn map[string]int                     // region -> page that fails
	calls []blocket.Query
}

func (f *fakeSearch) SearchPage(_ context.Context, q blocket.Query) (*blocket.SearchResult, error) {
	f.calls = append(f.calls, q)
	if page, ok := f.errOn[q.Region]; ok && q.Page == page {
		return nil, errors.New("connection reset")
	}
	pages := f.pages[q.Region]
	if q.Page > len(pages) {
		return &blocket.SearchResult{TotalPages: len(pages)}, nil
	}
	return pages[q.Page-1], nil
}

func ads(ids ...string) []models.Ad {
	out := make([]models.Ad, len(ids))
	for i, id := range ids {
		out[i] = models.Ad{BlocketID: id}
	}
	return out
}

func page(totalPages int, ids ...string) *blocket.SearchResult {
	return &blocket.SearchResult{Ads: ads(ids...), TotalPages: totalPages, MatchCount: len(ids)}
}

func testBuilder(client SearchClient) *Builder {
	return NewBuilder(client, config.FetchConfig{MaxPages: 50})
}

func TestBuildPaginatesAllPages(t *testing.T) {
	client := &fakeSearch{pages: map[string][]*blocket.SearchResult{
		"norrbotten": {
			page(3, "1", "2"),
			page(3, "3", "4"),
			page(3, "5"),
		},
	}}

	snap, err := testBuilder(client).Build(context.Background(), []blocket.Query{{Region: "norrbotten"}})
	require.NoError(t, err)

	assert.Len(t, snap.Entries, 5)
	assert.False(t, snap.Truncated)
	assert.Len(t, client.calls, 3)
	for i, call := range client.calls {
		assert.Equal(t, i+1, call.Page)
	}
}

func TestBuildDeduplicatesFirstOccurrenceWins(t *testing.T) {
	client := &fakeSearch{pages: map[string][]*blocket.SearchResult{
		"norrbotten":   {page(1, "1", "2")},
		"vasterbotten": {page(1, "2", "3")},
	}}

	snap, err := testBuilder(client).Build(context.Background(), []blocket.Query{
		{Region: "norrbotten"},
		{Region: "vasterbotten"},
	})
	require.NoError(t, err)

	require.Len(t, snap.Entries, 3)
	// Ad 2 keeps the region of the filter that found it first.
	for _, e := range snap.Entries {
		if e.Ad.BlocketID == "2" {
			assert.Equal(t, "norrbotten", e.Region)
		}
	}
	assert.True(t, snap.IDs()["3"])
}

func TestBuildStopsOnEmptyPage(t *testing.T) {
	client := &fakeSearch{pages: map[string][]*blocket.SearchResult{
		"norrbotten": {
			page(5, "1"),
			{TotalPages: 5}, // empty page before the reported end
			page(5, "never-reached"),
		},
	}}

	snap, err := testBuilder(client).Build(context.Background(), []blocket.Query{{Region: "norrbotten"}})
	require.NoError(t, err)

	assert.Len(t, snap.Entries, 1)
	assert.Len(t, client.calls, 2)
	assert.False(t, snap.Truncated)
}

func TestBuildRespectsPageCap(t *testing.T) {
	pages := make([]*blocket.SearchResult, 10)
	for i := range pages {
		pages[i] = page(10, fmt.Sprintf("ad-%d", i))
	}
	client := &fakeSearch{pages: map[string][]*blocket.SearchResult{"norrbotten": pages}}

	b := NewBuilder(client, config.FetchConfig{MaxPages: 4})
	snap, err := b.Build(context.Background(), []blocket.Query{{Region: "norrbotten"}})
	require.NoError(t, err)

	assert.Len(t, snap.Entries, 4)
	assert.Len(t, client.calls, 4)
}

func TestBuildMarksTruncatedOnTransportFailure(t *testing.T) {
	client := &fakeSearch{
		pages: map[string][]*blocket.SearchResult{
			"norrbotten":   {page(2, "1"), page(2, "2")},
			"vasterbotten": {page(2, "3"), page(2, "4")},
		},
		errOn: map[string]int{"norrbotten": 2},
	}

	snap, err := testBuilder(client).Build(context.Background(), []blocket.Query{
		{Region: "norrbotten"},
		{Region: "vasterbotten"},
	})
	require.NoError(t, err)

	assert.True(t, snap.Truncated)
	// The failing filter keeps its partial results and the next filter still runs.
	assert.True(t, snap.IDs()["1"])
	assert.True(t, snap.IDs()["3"])
	assert.True(t, snap.IDs()["4"])
}

func TestBuildCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeSearch{pages: map[string][]*blocket.SearchResult{"norrbotten": {page(1, "1")}}}
	_, err := testBuilder(client).Build(ctx, []blocket.Query{{Region: "norrbotten"}})
	assert.ErrorIs(t, err, context.Canceled)
}
