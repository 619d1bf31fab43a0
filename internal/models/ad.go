package models

import "time"

// Ad is one candidate record from a search-results page. It is ephemeral:
// snapshots of Ads are diffed against the catalog and then discarded.
// The search API already exposes some enrichment fields for some ads.
type Ad struct {
	BlocketID string
	RegNo     string

	Make    string
	Model   string
	Year    *int
	Mileage *int
	Fuel    string
	Price   *int

	Gearbox  *string
	BodyType *string
	Color    *string
	City     *string

	SellerName string
	SellerType string

	Published *time.Time
	URL       string
	ImageURL  string
}

// ToListing builds the initial catalog row for a new ad. Enrichment fields
// known from the search results are carried over; the rest stay nil until
// the detail fetch fills them.
func (a *Ad) ToListing(region string, seen time.Time) *Listing {
	return &Listing{
		BlocketID:  a.BlocketID,
		RegNo:      a.RegNo,
		Make:       a.Make,
		Model:      a.Model,
		Year:       a.Year,
		Mileage:    a.Mileage,
		Fuel:       a.Fuel,
		Price:      a.Price,
		Region:     region,
		Published:  a.Published,
		SellerName: a.SellerName,
		SellerType: a.SellerType,
		URL:        a.URL,
		ImageURL:   a.ImageURL,
		Gearbox:    a.Gearbox,
		BodyType:   a.BodyType,
		Color:      a.Color,
		City:       a.City,
		FirstSeen:  seen,
		LastSeen:   seen,
	}
}
