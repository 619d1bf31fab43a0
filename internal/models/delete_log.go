package models

import "time"

// DeleteLog records listings physically purged from the catalog.
type DeleteLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingID int64     `gorm:"not null;index" json:"listing_id"`
	BlocketID string    `gorm:"type:varchar(32);not null;index" json:"blocket_id"`
	Make      string    `gorm:"type:varchar(64)" json:"make,omitempty"`
	Model     string    `gorm:"type:varchar(128)" json:"model,omitempty"`
	URL       string    `gorm:"type:varchar(500)" json:"url,omitempty"`
	RemovedAt time.Time `json:"removed_at"`
	DeletedAt time.Time `gorm:"not null;autoCreateTime;index" json:"deleted_at"`
	Reason    string    `gorm:"type:varchar(50);not null" json:"reason"`
}

func (DeleteLog) TableName() string {
	return "delete_logs"
}

// Delete reasons
const (
	DeleteReasonExpired = "retention_expired"
	DeleteReasonManual  = "manual_deletion"
)
