package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/run"
)

// Scheduler triggers the full and light runs on their configured times.
// Runs are single flight: a trigger that fires while another run is still
// going is skipped, never queued.
type Scheduler struct {
	cron         *cron.Cron
	orchestrator *run.Orchestrator
	cfg          *config.Config

	mu      sync.Mutex
	running bool
}

func NewScheduler(orchestrator *run.Orchestrator, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		orchestrator: orchestrator,
		cfg:          cfg,
	}
}

// Start registers both jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Monitor.CronEnabled {
		log.Println("Scheduler: cron is disabled in configuration")
		return nil
	}

	fullSpec := parseRunTime(s.cfg.Monitor.FullRunTime, "0 6 * * *")
	lightSpec := parseRunTime(s.cfg.Monitor.LightRunTime, "0 18 * * *")

	if _, err := s.cron.AddFunc(fullSpec, func() {
		s.trigger(ctx, models.RunTypeFull)
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(lightSpec, func() {
		s.trigger(ctx, models.RunTypeLight)
	}); err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("Scheduler: started (full at %s, light at %s)",
		s.cfg.Monitor.FullRunTime, s.cfg.Monitor.LightRunTime)

	if s.cfg.Monitor.RunOnStart {
		go s.trigger(ctx, models.RunTypeFull)
	}
	return nil
}

// Stop stops the cron loop. A run in progress finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler: stopped")
}

// TriggerNow starts a run of the given type unless one is already going.
func (s *Scheduler) TriggerNow(ctx context.Context, runType string) error {
	if !s.tryAcquire() {
		return fmt.Errorf("a run is already in progress")
	}
	defer s.release()

	_, err := s.orchestrator.Execute(ctx, runType)
	return err
}

func (s *Scheduler) trigger(ctx context.Context, runType string) {
	if !s.tryAcquire() {
		log.Printf("Scheduler: skipping %s run, previous run still in progress", runType)
		return
	}
	defer s.release()

	if _, err := s.orchestrator.Execute(ctx, runType); err != nil {
		log.Printf("Scheduler: %s run failed: %v", runType, err)
	}
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// parseRunTime converts "HH:MM" to a cron specification.
// Example: "06:00" -> "0 6 * * *".
func parseRunTime(timeStr, fallback string) string {
	var hour, minute int
	n, _ := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if n == 2 && hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}
	log.Printf("Scheduler: failed to parse time '%s', using default", timeStr)
	return fallback
}
