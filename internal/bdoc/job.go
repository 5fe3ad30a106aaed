package bdoc

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks one enqueued document request. The bearer token travels on the
// queue message, never in this row.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	Tag      string `gorm:"type:varchar(32);not null"`
	Script   string `gorm:"type:text;not null"`
	Business string `gorm:"type:varchar(128);not null"`
	ClientIP string `gorm:"type:varchar(64)"`

	Status   JobStatus `gorm:"type:varchar(16);index;not null"`
	Attempts int       `gorm:"not null;default:0"`

	// Filled when succeeded
	PDFID    *uint64 `gorm:"column:pdf_id;index"`
	FilePath *string `gorm:"type:varchar(512)"`
	Cached   bool

	// Filled when failed, or by the latest retryable attempt
	ErrorKind  *string `gorm:"type:varchar(32)"`
	StatusCode *int
	Error      *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "prompt_jobs" }
