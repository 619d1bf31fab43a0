package blocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchPageHTML(t *testing.T, payload map[string]interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(raw)
	return []byte(fmt.Sprintf(
		`<html><head></head><body><script type="application/json">%s</script></body></html>`,
		encoded))
}

func docsPayload(docs []map[string]interface{}, lastPage, matchCount int) map[string]interface{} {
	return map[string]interface{}{
		"queries": []map[string]interface{}{
			{
				"state": map[string]interface{}{
					"data": map[string]interface{}{
						"docs": docs,
						"metadata": map[string]interface{}{
							"paging":      map[string]interface{}{"last": lastPage},
							"result_size": map[string]interface{}{"match_count": matchCount},
						},
					},
				},
			},
		},
	}
}

func TestParseSearchPage(t *testing.T) {
	docs := []map[string]interface{}{
		{
			"id":      "1401234567",
			"regno":   "ABC123",
			"make":    "Volvo",
			"model":   "V60",
			"year":    2021,
			"mileage": 4200,
			"fuel":    "Diesel",
			"gearbox": "Automat",
			"price":   map[string]interface{}{"amount": 289000},
			"organisation_name": "Bilbolaget Nord AB",
			"timestamp":         int64(1756700000000),
			"canonical_url":     "https://www.blocket.se/mobility/item/1401234567",
		},
		{
			"id":       1401234568,
			"make":     "Saab",
			"model":    "9-3",
			"location": "Kiruna",
		},
	}
	body := searchPageHTML(t, docsPayload(docs, 7, 250))

	result, err := ParseSearchPage(body)
	require.NoError(t, err)

	assert.Equal(t, 7, result.TotalPages)
	assert.Equal(t, 250, result.MatchCount)
	require.Len(t, result.Ads, 2)

	first := result.Ads[0]
	assert.Equal(t, "1401234567", first.BlocketID)
	assert.Equal(t, "Volvo", first.Make)
	assert.Equal(t, 289000, *first.Price)
	assert.Equal(t, "Automat", *first.Gearbox)
	assert.Equal(t, "dealer", first.SellerType)
	assert.NotNil(t, first.Published)

	// Numeric ids are accepted too, and private ads have no organisation.
	second := result.Ads[1]
	assert.Equal(t, "1401234568", second.BlocketID)
	assert.Equal(t, "private", second.SellerType)
	assert.Equal(t, "Kiruna", *second.City)
	assert.Nil(t, second.Price)
	assert.Equal(t, "https://www.blocket.se/mobility/item/1401234568", second.URL)
}

func TestParseSearchPageSkipsUndecodableScripts(t *testing.T) {
	docs := []map[string]interface{}{{"id": "1", "make": "Volvo"}}
	raw, err := json.Marshal(docsPayload(docs, 1, 1))
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(raw)
	body := []byte(`<html><body>` +
		`<script type="application/json">not-base64!!</script>` +
		`<script type="application/json">` + encoded + `</script>` +
		`</body></html>`)

	result, err := ParseSearchPage(body)
	require.NoError(t, err)
	require.Len(t, result.Ads, 1)
	assert.Equal(t, "1", result.Ads[0].BlocketID)
}

func TestParseSearchPageEmpty(t *testing.T) {
	result, err := ParseSearchPage([]byte(`<html><body><p>nothing here</p></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, result.Ads)
	assert.Equal(t, 1, result.TotalPages)
	assert.Equal(t, 0, result.MatchCount)
}

func TestSearchURL(t *testing.T) {
	u := SearchURL(Query{Region: "norrbotten", Make: "Volvo", Page: 3})
	assert.Contains(t, u, "location=0.300025")
	assert.Contains(t, u, "make=volvo")
	assert.Contains(t, u, "page=3")

	// Page 1 and unknown regions add nothing.
	assert.Equal(t, "https://www.blocket.se/mobility/search/car", SearchURL(Query{Region: "narnia"}))
}

func TestFlexID(t *testing.T) {
	var doc searchDoc
	require.NoError(t, json.Unmarshal([]byte(`{"id": "abc123"}`), &doc))
	assert.Equal(t, flexID("abc123"), doc.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id": 987654}`), &doc))
	assert.Equal(t, flexID("987654"), doc.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id": null}`), &doc))
	assert.Equal(t, flexID(""), doc.ID)
}
