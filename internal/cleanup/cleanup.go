package cleanup

import (
	"fmt"
	"log"
	"time"

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
)

// Service physically deletes removed listings whose retention has expired.
// Every deletion leaves a delete-log row behind.
type Service struct {
	store catalog.Store
	cfg   config.CleanupConfig
}

func NewService(store catalog.Store, cfg config.CleanupConfig) *Service {
	return &Service{store: store, cfg: cfg}
}

// Result holds the outcome of one purge pass.
type Result struct {
	TargetCount  int       `json:"target_count"`
	DeletedCount int       `json:"deleted_count"`
	ErrorCount   int       `json:"error_count"`
	DryRun       bool      `json:"dry_run"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// FindExpired returns the removed listings whose removed_at is older than
// the retention window.
func (s *Service) FindExpired() ([]models.Listing, error) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	listings, err := s.store.ListRemovedBefore(cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired listings: %w", err)
	}
	log.Printf("Cleanup: %d listings removed before %s", len(listings), cutoff.Format("2006-01-02"))
	return listings, nil
}

// Purge deletes every expired listing, within the safety cap. Each listing is
// deleted in its own transaction so one failure never blocks the rest.
func (s *Service) Purge() (*Result, error) {
	result := &Result{
		DryRun:     s.cfg.DryRun,
		ExecutedAt: time.Now(),
	}

	expired, err := s.FindExpired()
	if err != nil {
		return nil, err
	}
	result.TargetCount = len(expired)
	if result.TargetCount == 0 {
		log.Println("Cleanup: nothing to purge")
		return result, nil
	}

	// A target count past the cap points at a bug or a config mistake, not a
	// normal backlog. Refuse rather than mass-delete.
	if s.cfg.MaxDeletionCount > 0 && result.TargetCount > s.cfg.MaxDeletionCount {
		return nil, fmt.Errorf("safety check failed: %d listings exceed max deletion limit of %d",
			result.TargetCount, s.cfg.MaxDeletionCount)
	}

	log.Printf("Cleanup: purging %d listings (retention: %d days, dry-run: %v)",
		result.TargetCount, s.cfg.RetentionDays, s.cfg.DryRun)

	for i := range expired {
		l := &expired[i]
		if s.cfg.DryRun {
			log.Printf("Cleanup: [dry-run] would delete %s %s (%s, removed %s)",
				l.Make, l.Model, l.BlocketID, removedDate(l))
			result.DeletedCount++
			continue
		}

		if err := s.store.DeleteListing(l, models.DeleteReasonExpired); err != nil {
			log.Printf("Cleanup: failed to delete %s: %v", l.BlocketID, err)
			result.ErrorCount++
			continue
		}
		result.DeletedCount++
	}

	log.Printf("Cleanup: %d/%d deleted, %d errors (dry-run: %v)",
		result.DeletedCount, result.TargetCount, result.ErrorCount, s.cfg.DryRun)
	return result, nil
}

func removedDate(l *models.Listing) string {
	if l.RemovedAt == nil {
		return "unknown"
	}
	return l.RemovedAt.Format("2006-01-02")
}
