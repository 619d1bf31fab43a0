package blocket

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"car-market-monitor/internal/models"
)

var (
	gearboxPattern = regexp.MustCompile(`(?i)Växellåda</(?:span|dt)><(?:p|dd)[^>]*>([^<]+)`)
	colorPattern   = regexp.MustCompile(`(?i)Färg</(?:span|dt)><(?:p|dd)[^>]*>([^<]+)`)
	bodyPattern    = regexp.MustCompile(`(?i)Kaross</(?:span|dt)><(?:p|dd)[^>]*>([^<]+)`)
	vatPattern     = regexp.MustCompile(`(?i)\((\d[\d\s]*)\s*kr\s*exkl\.?\s*moms\)`)
	mapsPattern    = regexp.MustCompile(`(?i)maps/search/\?api=1[^"]*query=(\d{5})%20([^"&]+)`)
	numericOnly    = regexp.MustCompile(`^\d+$`)
)

var bodyTypes = []string{"Sedan", "Kombi", "SUV", "Halvkombi", "Cab", "Coupé", "Coupe", "Minibuss", "Pickup"}

// FetchDetails fetches an ad's detail page and extracts the sparse attribute
// patch. When the static page yields nothing and the headless fallback is
// enabled, the page is re-fetched through Chrome before giving up.
func (c *Client) FetchDetails(ctx context.Context, adURL string) (*models.DetailPatch, error) {
	body, err := c.getDetail(ctx, adURL)
	if err != nil {
		return nil, err
	}

	patch := ParseDetailPage(body)
	if patch.Empty() && c.headlessFallback {
		log.Printf("Blocket: static detail page empty, retrying with headless browser: %s", adURL)
		html, err := c.fetchHeadless(ctx, adURL)
		if err != nil {
			// The static result stands; the fallback is best effort.
			log.Printf("Blocket: headless fallback failed for %s: %v", adURL, err)
			return patch, nil
		}
		patch = ParseDetailPage([]byte(html))
	}
	return patch, nil
}

// ParseDetailPage extracts gearbox, body type, color, city and VAT info from
// a detail page. Every field is optional; an empty patch is a valid result.
func ParseDetailPage(body []byte) *models.DetailPatch {
	html := strings.ReplaceAll(string(body), "&nbsp;", " ")
	patch := &models.DetailPatch{}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return patch
	}

	// og:title carries "Make Model - Year - Color - Hp - Body | BLOCKET".
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		parts := strings.Split(title, " - ")
		if len(parts) >= 4 {
			color := strings.TrimSpace(parts[2])
			if color != "" && !numericOnly.MatchString(color) && len(color) < 20 {
				patch.Color = &color
			}
			last := strings.TrimSpace(parts[len(parts)-1])
			if i := strings.Index(last, "|"); i >= 0 {
				last = strings.TrimSpace(last[:i])
			}
			for _, bt := range bodyTypes {
				if strings.EqualFold(last, bt) || strings.Contains(strings.ToLower(last), strings.ToLower(bt)) {
					patch.BodyType = &last
					break
				}
			}
		}
	}

	// Gearbox from the spec table, with the description meta as fallback.
	if m := gearboxPattern.FindStringSubmatch(html); m != nil {
		patch.Gearbox = normalizeGearbox(m[1])
	}
	if patch.Gearbox == nil {
		desc, ok := doc.Find(`meta[name="description"]`).Attr("content")
		if !ok {
			desc, _ = doc.Find(`meta[property="og:description"]`).Attr("content")
		}
		patch.Gearbox = normalizeGearbox(desc)
	}

	if patch.Color == nil {
		if m := colorPattern.FindStringSubmatch(html); m != nil {
			color := strings.TrimSpace(m[1])
			patch.Color = &color
		}
	}

	if patch.BodyType == nil {
		if m := bodyPattern.FindStringSubmatch(html); m != nil {
			body := strings.TrimSpace(m[1])
			patch.BodyType = &body
		}
	}

	// "(255 920 kr exkl. moms)" marks a VAT-listed price. Only dealers list
	// prices excluding VAT, so this also upgrades the seller type.
	if m := vatPattern.FindStringSubmatch(html); m != nil {
		if price, err := strconv.Atoi(strings.Join(strings.Fields(m[1]), "")); err == nil {
			patch.VATListed = true
			patch.PriceExVAT = &price
			dealer := models.SellerTypeDealer
			patch.SellerType = &dealer
		}
	}

	// City fallback from the Google Maps link (postal code + city).
	if m := mapsPattern.FindStringSubmatch(html); m != nil {
		if decoded, err := url.QueryUnescape(m[2]); err == nil && decoded != "" {
			city := strings.ToUpper(decoded[:1]) + strings.ToLower(decoded[1:])
			patch.City = &city
		}
	}

	return patch
}

func normalizeGearbox(s string) *string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "automat"):
		v := "Automat"
		return &v
	case strings.Contains(lower, "manuell"):
		v := "Manuell"
		return &v
	}
	return nil
}

// Removed-page markers.
var (
	soldMarkers = []string{
		"annonsen är inte längre tillgänglig",
		"har sålts eller tagits bort",
	}
	notFoundMarkers = []string{
		"Sidan hittades inte",
		"<title>404</title>",
		"Här hittar du allt, förutom den sidan",
	}
)

// DetectRemoved inspects page content for the two recognizable terminal
// states. It returns the removal reason, or "" when the ad looks live.
func DetectRemoved(body []byte) string {
	html := string(body)
	for _, m := range soldMarkers {
		if strings.Contains(html, m) {
			return models.RemovedReasonSold
		}
	}
	for _, m := range notFoundMarkers {
		if strings.Contains(html, m) {
			return models.RemovedReasonNotFound
		}
	}
	return ""
}

// CheckRemoved fetches an ad's page and reports whether it shows a terminal
// state. A transport failure is returned as an error so the caller can treat
// the ad as still active.
func (c *Client) CheckRemoved(ctx context.Context, adURL string) (string, error) {
	body, err := c.get(ctx, adURL)
	if errors.Is(err, ErrNotFound) {
		return models.RemovedReasonNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return DetectRemoved(body), nil
}
