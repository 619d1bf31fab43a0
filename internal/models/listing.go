package models

import "time"

// Listing is one vehicle ad from Blocket, keyed by its immutable Blocket ID.
// Enrichment fields (gearbox, body type, color, city, VAT info) come from the
// ad's own detail page and stay nil until a detail fetch fills them.
type Listing struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	BlocketID string `gorm:"type:varchar(32);not null;uniqueIndex" json:"blocket_id"`
	RegNo     string `gorm:"type:varchar(16)" json:"reg_no,omitempty"`

	// Core fields from the search results
	Make      string     `gorm:"type:varchar(64);index" json:"make,omitempty"`
	Model     string     `gorm:"type:varchar(128)" json:"model,omitempty"`
	Year      *int       `gorm:"type:int" json:"year,omitempty"`
	Mileage   *int       `gorm:"type:int" json:"mileage,omitempty"`
	Fuel      string     `gorm:"type:varchar(32)" json:"fuel,omitempty"`
	Price     *int       `gorm:"type:int;index" json:"price,omitempty"`
	Region    string     `gorm:"type:varchar(32);index" json:"region,omitempty"`
	Published *time.Time `json:"published,omitempty"`

	SellerName string `gorm:"type:varchar(255)" json:"seller_name,omitempty"`
	SellerType string `gorm:"type:varchar(16)" json:"seller_type,omitempty"`

	URL      string `gorm:"type:varchar(500)" json:"url,omitempty"`
	ImageURL string `gorm:"type:text" json:"image_url,omitempty"`

	// Enrichment fields from the detail page, independently nullable.
	// Gearbox doubles as the no-data sentinel: an empty non-nil string means
	// a detail fetch was attempted and yielded nothing.
	Gearbox    *string `gorm:"type:varchar(32)" json:"gearbox,omitempty"`
	BodyType   *string `gorm:"type:varchar(32)" json:"body_type,omitempty"`
	Color      *string `gorm:"type:varchar(32)" json:"color,omitempty"`
	City       *string `gorm:"type:varchar(64)" json:"city,omitempty"`
	VATListed  bool    `gorm:"not null;default:false" json:"vat_listed"`
	PriceExVAT *int    `gorm:"type:int" json:"price_ex_vat,omitempty"`

	// Lifecycle
	FirstSeen     time.Time  `gorm:"not null;index" json:"first_seen"`
	LastSeen      time.Time  `gorm:"not null;index" json:"last_seen"`
	RemovedAt     *time.Time `gorm:"index" json:"removed_at,omitempty"`
	RemovedReason string     `gorm:"type:varchar(20)" json:"removed_reason,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Listing) TableName() string {
	return "listings"
}

// Seller types
const (
	SellerTypePrivate = "private"
	SellerTypeDealer  = "dealer"
)

// Removal reasons
const (
	RemovedReasonSold     = "sold"      // absent from an exhaustive snapshot, or sold-page verified
	RemovedReasonNotFound = "not_found" // detail page returns a 404-style page
	RemovedReasonStale    = "stale"     // not seen for longer than the configured age threshold
)

// GearboxNoData marks a listing whose detail page was fetched but yielded no
// enrichment fields at all, so it is not re-queued every run.
const GearboxNoData = ""

// IsActive reports whether the listing is still on the market.
func (l *Listing) IsActive() bool {
	return l.RemovedAt == nil
}

// MarkRemoved sets the terminal removal state.
func (l *Listing) MarkRemoved(reason string) {
	now := time.Now()
	l.RemovedAt = &now
	l.RemovedReason = reason
}

// NeedsDetails reports whether a detail-page fetch should be scheduled.
// A listing with the no-data sentinel is never re-queued; a listing with a
// real gearbox but no city is re-queued because the city may still appear.
func (l *Listing) NeedsDetails() bool {
	if l.Gearbox == nil {
		return true
	}
	if *l.Gearbox == GearboxNoData {
		return false
	}
	return l.City == nil
}

// MergeDetails applies a detail-page patch under the monotonic merge rule:
// a field is written only when the listing holds no value for it. Seller type
// is the single correctable field (private upgraded to dealer on detail-page
// evidence). Returns the number of fields written.
func (l *Listing) MergeDetails(p *DetailPatch) int {
	written := 0
	if l.Gearbox == nil && p.Gearbox != nil {
		l.Gearbox = p.Gearbox
		written++
	}
	if l.BodyType == nil && p.BodyType != nil {
		l.BodyType = p.BodyType
		written++
	}
	if l.Color == nil && p.Color != nil {
		l.Color = p.Color
		written++
	}
	if l.City == nil && p.City != nil {
		l.City = p.City
		written++
	}
	if !l.VATListed && p.VATListed {
		l.VATListed = true
		written++
	}
	if l.PriceExVAT == nil && p.PriceExVAT != nil {
		l.PriceExVAT = p.PriceExVAT
		written++
	}
	if p.SellerType != nil && *p.SellerType == SellerTypeDealer && l.SellerType == SellerTypePrivate {
		l.SellerType = SellerTypeDealer
		written++
	}
	return written
}

// DetailPatch is the sparse set of attributes extracted from one detail page.
// nil means the page did not expose the field, not that the field is empty.
type DetailPatch struct {
	Gearbox    *string
	BodyType   *string
	Color      *string
	City       *string
	VATListed  bool
	PriceExVAT *int
	SellerType *string
}

// Empty reports whether the patch carries no attribute at all.
func (p *DetailPatch) Empty() bool {
	return p.Gearbox == nil && p.BodyType == nil && p.Color == nil &&
		p.City == nil && !p.VATListed && p.PriceExVAT == nil && p.SellerType == nil
}
