package domain

import "time"

// RunStatus represents the lifecycle status of a scrape run.
// Values include RunStatusInitiated, RunStatusRunning, RunStatusCompleted, and RunStatusFailed.
type RunStatus string

const (
	RunStatusInitiated RunStatus = "initiated"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ClassificationStatus tracks how far the downstream pipeline has taken a completed run.
// The empty string means the field was never set (runs completed before the field
// existed, or ingestion raced ahead of a schema update).
type ClassificationStatus string

const (
	ClassificationStatusNone       ClassificationStatus = ""
	ClassificationStatusReady      ClassificationStatus = "ready"
	ClassificationStatusInProgress ClassificationStatus = "in_progress"
	ClassificationStatusCompleted  ClassificationStatus = "completed"
	ClassificationStatusFailed     ClassificationStatus = "failed"
)

// RunKind distinguishes the provider job variants, which return different raw schemas.
type RunKind string

const (
	RunKindPosts   RunKind = "posts"
	RunKindStories RunKind = "stories"
)

// Run represents one invocation of the external scraping job and everything
// downstream tied to its id. Status is owned by completion ingestion;
// ClassificationStatus is owned by the auto-pipeline.
type Run struct {
	RunID                   string               `gorm:"type:text;primaryKey" json:"run_id"`
	ExternalJobID           string               `gorm:"type:text;index" json:"external_job_id"`
	DatasetRef              string               `gorm:"type:text" json:"dataset_ref"`
	Kind                    RunKind              `gorm:"type:text;default:posts" json:"kind"`
	Status                  RunStatus            `gorm:"type:text;index:idx_runs_status" json:"status"`
	ClassificationStatus    ClassificationStatus `gorm:"type:text;index:idx_runs_class_status" json:"classification_status"`
	TargetCount             int                  `json:"target_count"`
	InitiatedAt             time.Time            `json:"initiated_at"`
	CompletedAt             *time.Time           `json:"completed_at,omitempty"`
	ClassificationStartedAt *time.Time           `json:"classification_started_at,omitempty"`
	ProcessingStats         string               `gorm:"type:text" json:"processing_stats,omitempty"`
	Error                   string               `gorm:"type:text" json:"error,omitempty"`
	CreatedAt               time.Time            `json:"created_at"`
	UpdatedAt               time.Time            `json:"updated_at"`
}

// TableName returns the database table name for Run.
func (Run) TableName() string {
	return "runs"
}

// PollLog records one poller invocation for observability.
type PollLog struct {
	ID            string      `gorm:"type:text;primaryKey" json:"id"`
	CheckedRuns   StringArray `gorm:"type:text" json:"checked_runs"`
	CompletedRuns StringArray `gorm:"type:text" json:"completed_runs"`
	FailedRuns    StringArray `gorm:"type:text" json:"failed_runs"`
	Errors        StringArray `gorm:"type:text" json:"errors"`
	CreatedAt     time.Time   `json:"created_at"`
}

// TableName returns the database table name for PollLog.
func (PollLog) TableName() string {
	return "poll_logs"
}
