package search

import (
	"fmt"
	"strings"

	"car-market-monitor/internal/models"
)

// FilterParams are the structured filters the listing filter endpoint accepts.
type FilterParams struct {
	Query      string
	Region     string
	Makes      []string
	Fuel       string
	Gearbox    string
	SellerType string
	MinPrice   *int
	MaxPrice   *int
	MaxMileage *int
	MinYear    *int
	SortBy     string
	Limit      int64
}

// FilterSearch translates the structured filters into a Meilisearch filter
// expression and runs the search.
func (s *SearchClient) FilterSearch(params FilterParams) ([]models.Listing, error) {
	var filters []string

	if params.Region != "" {
		filters = append(filters, fmt.Sprintf("region = '%s'", params.Region))
	}
	if len(params.Makes) > 0 {
		makeFilters := make([]string, len(params.Makes))
		for i, mk := range params.Makes {
			makeFilters[i] = fmt.Sprintf("make = '%s'", mk)
		}
		filters = append(filters, fmt.Sprintf("(%s)", strings.Join(makeFilters, " OR ")))
	}
	if params.Fuel != "" {
		filters = append(filters, fmt.Sprintf("fuel = '%s'", params.Fuel))
	}
	if params.Gearbox != "" {
		filters = append(filters, fmt.Sprintf("gearbox = '%s'", params.Gearbox))
	}
	if params.SellerType != "" {
		filters = append(filters, fmt.Sprintf("seller_type = '%s'", params.SellerType))
	}
	if params.MinPrice != nil {
		filters = append(filters, fmt.Sprintf("price >= %d", *params.MinPrice))
	}
	if params.MaxPrice != nil {
		filters = append(filters, fmt.Sprintf("price <= %d", *params.MaxPrice))
	}
	if params.MaxMileage != nil {
		filters = append(filters, fmt.Sprintf("mileage <= %d", *params.MaxMileage))
	}
	if params.MinYear != nil {
		filters = append(filters, fmt.Sprintf("year >= %d", *params.MinYear))
	}

	req := SearchRequest{
		Query:  params.Query,
		Limit:  params.Limit,
		Filter: filters,
	}
	if params.SortBy != "" {
		req.Sort = []string{params.SortBy}
	}

	result, err := s.AdvancedSearch(req)
	if err != nil {
		return nil, err
	}
	return result.Hits, nil
}
