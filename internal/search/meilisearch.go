package search

import (
	"fmt"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"car-market-monitor/internal/models"
)

// SearchClient wraps the Meilisearch index that mirrors the active catalog.
type SearchClient struct {
	client *meilisearch.Client
	index  string
}

func NewSearchClient(host, apiKey, index string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	if index == "" {
		index = "listings"
	}
	return &SearchClient{
		client: client,
		index:  index,
	}
}

// InitIndex creates the index and configures its attributes.
func (s *SearchClient) InitIndex() error {
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Ignore error if index already exists
	if err != nil && err.Error() != "index already exists" {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"make",
		"model",
		"reg_no",
		"city",
		"seller_name",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"id",
		"region",
		"make",
		"fuel",
		"gearbox",
		"body_type",
		"seller_type",
		"price",
		"year",
		"mileage",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"price",
		"year",
		"mileage",
		"first_seen",
	})
	return err
}

// IndexListings pushes listings into the index. Documents are replaced by id,
// so re-indexing after each run keeps the mirror current.
func (s *SearchClient) IndexListings(listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	_, err := s.client.Index(s.index).AddDocuments(listings)
	return err
}

// RemoveListings drops retired listings from the index.
func (s *SearchClient) RemoveListings(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = fmt.Sprint(id)
	}
	_, err := s.client.Index(s.index).DeleteDocuments(docIDs)
	return err
}

// SearchRequest represents advanced search parameters
type SearchRequest struct {
	Query  string
	Limit  int64
	Offset int64
	Filter []string
	Sort   []string
	Facets []string
}

// SearchResult represents search results with facets
type SearchResult struct {
	Hits           []models.Listing
	TotalHits      int64
	Facets         map[string]interface{}
	ProcessingTime int64
}

// Search searches listings with basic options
func (s *SearchClient) Search(query string, limit int64) ([]models.Listing, error) {
	result, err := s.AdvancedSearch(SearchRequest{
		Query: query,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return result.Hits, nil
}

// AdvancedSearch performs search with filters, sorting and facets
func (s *SearchClient) AdvancedSearch(req SearchRequest) (*SearchResult, error) {
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}

	if len(req.Filter) > 0 {
		filterStr := ""
		for i, f := range req.Filter {
			if i > 0 {
				filterStr += " AND "
			}
			filterStr += f
		}
		searchReq.Filter = filterStr
	}
	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}
	if len(req.Facets) > 0 {
		searchReq.Facets = req.Facets
	}

	searchRes, err := s.client.Index(s.index).Search(req.Query, searchReq)
	if err != nil {
		return nil, err
	}

	listings := make([]models.Listing, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		listings = append(listings, parseListingFromHit(hit))
	}

	var facets map[string]interface{}
	if searchRes.FacetDistribution != nil {
		facets, _ = searchRes.FacetDistribution.(map[string]interface{})
	}

	return &SearchResult{
		Hits:           listings,
		TotalHits:      searchRes.EstimatedTotalHits,
		Facets:         facets,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}

// parseListingFromHit converts a search hit back into a Listing
func parseListingFromHit(hit interface{}) models.Listing {
	hitMap, ok := hit.(map[string]interface{})
	if !ok {
		return models.Listing{}
	}

	listing := models.Listing{
		BlocketID:  getString(hitMap, "blocket_id"),
		RegNo:      getString(hitMap, "reg_no"),
		Make:       getString(hitMap, "make"),
		Model:      getString(hitMap, "model"),
		Fuel:       getString(hitMap, "fuel"),
		Region:     getString(hitMap, "region"),
		SellerName: getString(hitMap, "seller_name"),
		SellerType: getString(hitMap, "seller_type"),
		URL:        getString(hitMap, "url"),
		ImageURL:   getString(hitMap, "image_url"),
	}

	if id, ok := hitMap["id"].(float64); ok {
		listing.ID = int64(id)
	}
	listing.Year = getIntPtr(hitMap, "year")
	listing.Mileage = getIntPtr(hitMap, "mileage")
	listing.Price = getIntPtr(hitMap, "price")
	listing.PriceExVAT = getIntPtr(hitMap, "price_ex_vat")
	listing.Gearbox = getStringPtr(hitMap, "gearbox")
	listing.BodyType = getStringPtr(hitMap, "body_type")
	listing.Color = getStringPtr(hitMap, "color")
	listing.City = getStringPtr(hitMap, "city")
	if v, ok := hitMap["vat_listed"].(bool); ok {
		listing.VATListed = v
	}
	if ts := getString(hitMap, "first_seen"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			listing.FirstSeen = t
		}
	}

	return listing
}

func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

func getStringPtr(m map[string]interface{}, key string) *string {
	if val, ok := m[key].(string); ok {
		return &val
	}
	return nil
}

func getIntPtr(m map[string]interface{}, key string) *int {
	if val, ok := m[key].(float64); ok {
		i := int(val)
		return &i
	}
	return nil
}

// GetFacets retrieves facet distribution for specified fields
func (s *SearchClient) GetFacets(facets []string) (map[string]interface{}, error) {
	searchRes, err := s.client.Index(s.index).Search("", &meilisearch.SearchRequest{
		Limit:  0,
		Facets: facets,
	})
	if err != nil {
		return nil, err
	}

	if searchRes.FacetDistribution != nil {
		if facetMap, ok := searchRes.FacetDistribution.(map[string]interface{}); ok {
			return facetMap, nil
		}
	}
	return map[string]interface{}{}, nil
}
