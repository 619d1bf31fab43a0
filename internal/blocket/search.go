package blocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"car-market-monitor/internal/models"
)

const searchBaseURL = "https://www.blocket.se/mobility/search/car"

// RegionCodes maps region names to Blocket location codes.
var RegionCodes = map[string]string{
	"norrbotten":      "0.300025",
	"vasterbotten":    "0.300024",
	"jamtland":        "0.300023",
	"vasternorrland":  "0.300022",
	"gavleborg":       "0.300021",
	"dalarna":         "0.300020",
	"vastmanland":     "0.300019",
	"orebro":          "0.300018",
	"varmland":        "0.300017",
	"vastra_gotaland": "0.300014",
	"halland":         "0.300013",
	"skane":           "0.300012",
	"blekinge":        "0.300010",
	"gotland":         "0.300009",
	"kalmar":          "0.300008",
	"kronoberg":       "0.300007",
	"jonkoping":       "0.300006",
	"ostergotland":    "0.300005",
	"sodermanland":    "0.300004",
	"uppsala":         "0.300003",
	"stockholm":       "0.300001",
}

// Query is one search filter. Zero values mean "no constraint".
type Query struct {
	Region   string
	Make     string
	Model    string
	YearFrom int
	YearTo   int
	Page     int
}

// SearchURL builds the search URL for a query.
func SearchURL(q Query) string {
	params := url.Values{}
	if code, ok := RegionCodes[strings.ToLower(q.Region)]; ok {
		params.Set("location", code)
	}
	if q.Make != "" {
		params.Set("make", strings.ToLower(q.Make))
	}
	if q.Model != "" {
		params.Set("model", strings.ToLower(q.Model))
	}
	if q.YearFrom > 0 {
		params.Set("year_from", fmt.Sprint(q.YearFrom))
	}
	if q.YearTo > 0 {
		params.Set("year_to", fmt.Sprint(q.YearTo))
	}
	if q.Page > 1 {
		params.Set("page", fmt.Sprint(q.Page))
	}

	if len(params) == 0 {
		return searchBaseURL
	}
	return searchBaseURL + "?" + params.Encode()
}

// SearchResult is one parsed search-results page.
type SearchResult struct {
	Ads        []models.Ad
	TotalPages int
	MatchCount int
}

// SearchPage fetches and parses one page of search results.
func (c *Client) SearchPage(ctx context.Context, q Query) (*SearchResult, error) {
	body, err := c.get(ctx, SearchURL(q))
	if err != nil {
		return nil, err
	}
	return ParseSearchPage(body)
}

// ParseSearchPage extracts the ads and paging metadata embedded in a search
// page. The page carries its result set as base64-encoded JSON inside
// script tags of type application/json; the first decodable query state
// with a non-empty docs array wins.
func ParseSearchPage(body []byte) (*SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	result := &SearchResult{TotalPages: 1}

	doc.Find(`script[type="application/json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s.Text()))
		if err != nil {
			return true
		}

		var payload searchPayload
		if err := json.Unmarshal(decoded, &payload); err != nil {
			return true
		}

		for _, query := range payload.Queries {
			data := query.State.Data
			if len(data.Docs) == 0 {
				continue
			}
			for _, d := range data.Docs {
				ad := d.toAd()
				if ad.BlocketID == "" {
					continue
				}
				result.Ads = append(result.Ads, ad)
			}
			if data.Metadata.Paging.Last > 0 {
				result.TotalPages = data.Metadata.Paging.Last
			}
			result.MatchCount = data.Metadata.ResultSize.MatchCount
			return false
		}
		return true
	})

	if result.MatchCount == 0 {
		result.MatchCount = len(result.Ads)
	}
	return result, nil
}

type searchPayload struct {
	Queries []struct {
		State struct {
			Data struct {
				Docs     []searchDoc    `json:"docs"`
				Metadata searchMetadata `json:"metadata"`
			} `json:"data"`
		} `json:"state"`
	} `json:"queries"`
}

type searchMetadata struct {
	Paging struct {
		Last int `json:"last"`
	} `json:"paging"`
	ResultSize struct {
		MatchCount int `json:"match_count"`
	} `json:"result_size"`
}

type searchDoc struct {
	ID       flexID `json:"id"`
	Regno    string `json:"regno"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     *int   `json:"year"`
	Mileage  *int   `json:"mileage"`
	Fuel     string `json:"fuel"`
	Gearbox  string `json:"gearbox"`
	BodyType string `json:"body_type"`
	Color    string `json:"color"`
	Price    *struct {
		Amount int `json:"amount"`
	} `json:"price"`
	Location         string `json:"location"`
	OrganisationName string `json:"organisation_name"`
	Timestamp        int64  `json:"timestamp"`
	CanonicalURL     string `json:"canonical_url"`
	Image            *struct {
		URL string `json:"url"`
	} `json:"image"`
}

func (d *searchDoc) toAd() models.Ad {
	ad := models.Ad{
		BlocketID: string(d.ID),
		RegNo:     d.Regno,
		Make:      d.Make,
		Model:     d.Model,
		Year:      d.Year,
		Mileage:   d.Mileage,
		Fuel:      d.Fuel,
		Gearbox:   optString(d.Gearbox),
		BodyType:  optString(d.BodyType),
		Color:     optString(d.Color),
		City:      optString(d.Location),
	}

	if d.Price != nil {
		price := d.Price.Amount
		ad.Price = &price
	}

	ad.SellerName = d.OrganisationName
	if d.OrganisationName != "" {
		ad.SellerType = models.SellerTypeDealer
	} else {
		ad.SellerType = models.SellerTypePrivate
	}

	if d.Timestamp > 0 {
		t := time.UnixMilli(d.Timestamp).UTC()
		ad.Published = &t
	}

	ad.URL = d.CanonicalURL
	if ad.URL == "" && ad.BlocketID != "" {
		ad.URL = "https://www.blocket.se/mobility/item/" + ad.BlocketID
	}
	if d.Image != nil {
		ad.ImageURL = d.Image.URL
	}

	return ad
}

// flexID accepts the ad id as either a JSON string or a number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
