package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a queued ask. The answer lands in the conversation; Reply keeps a copy for polling.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	UserID         string `gorm:"size:26;not null;index:uniq_user_idempo,unique,priority:1" json:"-"`
	BookID         string `gorm:"size:64;not null" json:"book_id"`
	ConversationID string `gorm:"size:26;index;not null" json:"conversation_id"`

	Prompt string `gorm:"type:text;not null" json:"prompt"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_user_idempo,unique,priority:2" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Attempts counts how many times a worker has claimed the job.
	Attempts int `gorm:"not null;default:0" json:"attempts"`

	// Filled when succeeded
	Reply *string `gorm:"type:text" json:"reply,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "chat_jobs" }

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}
