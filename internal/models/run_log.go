package models

import "time"

// RunStatus is the lifecycle state of one polling run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run types: a full run does the complete pipeline including backfill
// enrichment and market statistics; a light run enriches new ads only and
// skips the statistics pass.
const (
	RunTypeFull  = "full"
	RunTypeLight = "light"
)

// RunLog is one row per orchestrator run. It is created in the running state
// when the run starts and finalized exactly once, never re-opened.
type RunLog struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunType    string     `gorm:"type:varchar(10);not null" json:"run_type"`
	Status     RunStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	Regions    string     `gorm:"type:text" json:"regions,omitempty"`
	Makes      string     `gorm:"type:text" json:"makes,omitempty"`
	StartedAt  time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Found        int `gorm:"not null;default:0" json:"found"`
	New          int `gorm:"not null;default:0" json:"new"`
	Updated      int `gorm:"not null;default:0" json:"updated"`
	PriceChanges int `gorm:"not null;default:0" json:"price_changes"`
	Enriched     int `gorm:"not null;default:0" json:"enriched"`
	Removed      int `gorm:"not null;default:0" json:"removed"`
	Errors       int `gorm:"not null;default:0" json:"errors"`

	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
}

func (RunLog) TableName() string {
	return "run_logs"
}

// Finish closes the run exactly once. A non-empty errMsg finalizes as failed.
func (r *RunLog) Finish(errMsg string) {
	now := time.Now()
	r.FinishedAt = &now
	if errMsg != "" {
		r.Status = RunStatusFailed
		r.ErrorMessage = errMsg
	} else {
		r.Status = RunStatusCompleted
	}
}
