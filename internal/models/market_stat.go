package models

import "time"

// MarketStat is one daily aggregate over the active listings of a
// (region, make) group. Rows are upserted on (stat_date, region, make).
type MarketStat struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StatDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_stat_group" json:"stat_date"`
	Region   string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_stat_group" json:"region"`
	Make     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_stat_group" json:"make"`

	ListingCount int  `gorm:"not null" json:"listing_count"`
	MeanPrice    *int `json:"mean_price,omitempty"`
	MedianPrice  *int `json:"median_price,omitempty"`
	MinPrice     *int `json:"min_price,omitempty"`
	MaxPrice     *int `json:"max_price,omitempty"`
	PrivateCount int  `gorm:"not null" json:"private_count"`
	DealerCount  int  `gorm:"not null" json:"dealer_count"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (MarketStat) TableName() string {
	return "market_stats"
}
