package catalog

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"car-market-monitor/internal/models"
)

// GormStore is the primary Store implementation, backed by GORM.
type GormStore struct {
	db *gorm.DB
}

// OpenMySQL opens a MySQL-backed store.
func OpenMySQL(host string, port int, user, password, dbname string) (*GormStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

// NewGormStore wraps an existing gorm.DB instance.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying gorm.DB instance
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Init creates tables using GORM AutoMigrate
func (s *GormStore) Init() error {
	return s.db.AutoMigrate(
		&models.Listing{},
		&models.PriceEvent{},
		&models.RunLog{},
		&models.MarketStat{},
		&models.DeleteLog{},
	)
}

func (s *GormStore) FindByBlocketID(blocketID string) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Where("blocket_id = ?", blocketID).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (s *GormStore) CreateListing(l *models.Listing) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(l).Error; err != nil {
			return err
		}
		if l.Price != nil {
			event := models.PriceEvent{
				ListingID:  l.ID,
				Price:      *l.Price,
				ObservedAt: l.FirstSeen,
			}
			if err := tx.Create(&event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) SaveListing(l *models.Listing) error {
	return s.db.Save(l).Error
}

func (s *GormStore) TouchLastSeen(id int64, seen time.Time) error {
	return s.db.Model(&models.Listing{}).
		Where("id = ?", id).
		Update("last_seen", seen).Error
}

func (s *GormStore) UpdatePrice(id int64, price int, seen time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Listing{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"price":     price,
				"last_seen": seen,
			}).Error
		if err != nil {
			return err
		}
		event := models.PriceEvent{ListingID: id, Price: price, ObservedAt: seen}
		return tx.Create(&event).Error
	})
}

func (s *GormStore) AppendPriceEvent(listingID int64, price int, observedAt time.Time) error {
	event := models.PriceEvent{ListingID: listingID, Price: price, ObservedAt: observedAt}
	return s.db.Create(&event).Error
}

func (s *GormStore) PriceEvents(listingID int64) ([]models.PriceEvent, error) {
	var events []models.PriceEvent
	err := s.db.Where("listing_id = ?", listingID).Order("observed_at ASC").Find(&events).Error
	return events, err
}

func (s *GormStore) ListActive() ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.Where("removed_at IS NULL").Find(&listings).Error
	return listings, err
}

func (s *GormStore) ListActiveNotSeenSince(cutoff time.Time) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.Where("removed_at IS NULL AND last_seen < ?", cutoff).Find(&listings).Error
	return listings, err
}

func (s *GormStore) ListNeedingDetails(limit int) ([]models.Listing, error) {
	var listings []models.Listing
	query := s.db.Where("removed_at IS NULL AND (gearbox IS NULL OR (gearbox <> '' AND city IS NULL))")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&listings).Error
	return listings, err
}

func (s *GormStore) MarkRemoved(id int64, reason string) error {
	now := time.Now()
	return s.db.Model(&models.Listing{}).
		Where("id = ? AND removed_at IS NULL", id).
		Updates(map[string]interface{}{
			"removed_at":     &now,
			"removed_reason": reason,
		}).Error
}

func (s *GormStore) BulkMarkRemoved(ids []int64, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	result := s.db.Model(&models.Listing{}).
		Where("id IN ? AND removed_at IS NULL", ids).
		Updates(map[string]interface{}{
			"removed_at":     &now,
			"removed_reason": reason,
		})
	return result.RowsAffected, result.Error
}

func (s *GormStore) StartRun(run *models.RunLog) error {
	return s.db.Create(run).Error
}

func (s *GormStore) FinishRun(run *models.RunLog) error {
	return s.db.Save(run).Error
}

func (s *GormStore) RecentRuns(limit int) ([]models.RunLog, error) {
	var runs []models.RunLog
	query := s.db.Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&runs).Error
	return runs, err
}

func (s *GormStore) UpsertMarketStat(stat *models.MarketStat) error {
	var existing models.MarketStat
	err := s.db.Where("stat_date = ? AND region = ? AND make = ?",
		stat.StatDate, stat.Region, stat.Make).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(stat).Error
	}
	if err != nil {
		return err
	}

	stat.ID = existing.ID
	stat.CreatedAt = existing.CreatedAt
	return s.db.Save(stat).Error
}

func (s *GormStore) MarketStatsForDate(date time.Time) ([]models.MarketStat, error) {
	var stats []models.MarketStat
	err := s.db.Where("stat_date = ?", date.Truncate(24*time.Hour)).Find(&stats).Error
	return stats, err
}

func (s *GormStore) ListRemovedBefore(cutoff time.Time) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.Where("removed_at IS NOT NULL AND removed_at < ?", cutoff).Find(&listings).Error
	return listings, err
}

func (s *GormStore) DeleteListing(l *models.Listing, reason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		removedAt := time.Now()
		if l.RemovedAt != nil {
			removedAt = *l.RemovedAt
		}
		entry := models.DeleteLog{
			ListingID: l.ID,
			BlocketID: l.BlocketID,
			Make:      l.Make,
			Model:     l.Model,
			URL:       l.URL,
			RemovedAt: removedAt,
			Reason:    reason,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if err := tx.Where("listing_id = ?", l.ID).Delete(&models.PriceEvent{}).Error; err != nil {
			return err
		}
		return tx.Delete(l).Error
	})
}
