// Package persistence provides GORM-backed storage for the three
// relational entities this system treats as durable state: Repository
// State, Content Blob, and the Ingestion Job queue.
package persistence

import "time"

// RepoStateModel is the GORM row for the Repository State entity, table
// repo_states.
type RepoStateModel struct {
	ID                  string `gorm:"primaryKey;size:26"`
	RepoURL             string `gorm:"uniqueIndex;not null"`
	LocalPath           string `gorm:"not null"`
	LastProcessedCommit string
	FileSignatures      []byte `gorm:"type:jsonb"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName pins the table name explicitly rather than relying on GORM's
// default pluralization.
func (RepoStateModel) TableName() string { return "repo_states" }

// BlobModel is the GORM row for the Content Blob entity, table
// content_blobs.
type BlobModel struct {
	ID        string `gorm:"primaryKey"`
	RepoID    string `gorm:"size:255;index;not null"`
	Content   string `gorm:"type:text"`
	Metadata  []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name explicitly.
func (BlobModel) TableName() string { return "content_blobs" }

// JobModel is the GORM row realizing the durable job queue, table
// ingestion_jobs, backed by Postgres or SQLite.
type JobModel struct {
	ID           string `gorm:"primaryKey"`
	RepoURL      string `gorm:"not null"`
	Ref          string
	Token        string
	UserID       string
	RepoID       string `gorm:"index"`
	Meta         []byte `gorm:"type:jsonb"`
	State        string `gorm:"index;not null"`
	Progress     int
	AttemptsMade int
	MaxAttempts  int
	FailedReason string
	QueuedAt     time.Time
	RunAfter     time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName pins the table name explicitly.
func (JobModel) TableName() string { return "ingestion_jobs" }
