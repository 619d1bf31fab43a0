package models

import "time"

// PriceEvent is one observed price for a listing. The table is append-only:
// one row at listing creation (when a price is present) and one per detected
// price change. Rows are never updated or deleted.
type PriceEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID  int64     `gorm:"not null;index" json:"listing_id"`
	Price      int       `gorm:"not null" json:"price"`
	ObservedAt time.Time `gorm:"not null;autoCreateTime;index" json:"observed_at"`
}

func (PriceEvent) TableName() string {
	return "price_events"
}
