package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rephole/rephole/domain/job"
	"github.com/rephole/rephole/internal/database"
	"gorm.io/gorm"
)

// JobStore is the durable, at-least-once job queue, backed by the
// ingestion_jobs table.
type JobStore struct {
	db database.Database
}

// NewJobStore creates a JobStore.
func NewJobStore(db database.Database) JobStore {
	return JobStore{db: db}
}

// Enqueue persists a brand new job in the waiting state.
func (s JobStore) Enqueue(ctx context.Context, j job.Job) error {
	model, err := toModelJob(j)
	if err != nil {
		return err
	}
	if err := s.db.Session(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("enqueue job %s: %w", j.ID(), err)
	}
	return nil
}

// Dequeue atomically claims the oldest eligible waiting job (run_after <=
// now) and marks it active, returning database.ErrNotFound if none are
// ready. The select-then-claim runs inside one transaction, with the
// claim update guarded by the candidate's previous state: SQLite and
// Postgres both support `UPDATE ... WHERE id = (SELECT id ... LIMIT 1
// FOR UPDATE SKIP LOCKED)` semantics badly across both dialects, so a
// lost race surfaces as zero affected rows and the caller retries its
// poll.
func (s JobStore) Dequeue(ctx context.Context) (job.Job, error) {
	claimed, err := database.WithTransactionResult(ctx, s.db, func(tx *gorm.DB) (JobModel, error) {
		var candidate JobModel
		q := database.NewQuery().
			Equal("state", string(job.StateWaiting)).
			LessThanOrEqual("run_after", time.Now()).
			OrderAsc("run_after").
			Limit(1)
		err := q.Apply(tx).First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return JobModel{}, database.ErrNotFound
		}
		if err != nil {
			return JobModel{}, fmt.Errorf("dequeue candidate: %w", err)
		}

		result := tx.Model(&JobModel{}).
			Where("id = ? AND state = ?", candidate.ID, string(job.StateWaiting)).
			Updates(map[string]any{
				"state":         string(job.StateActive),
				"attempts_made": candidate.AttemptsMade + 1,
				"updated_at":    time.Now(),
			})
		if result.Error != nil {
			return JobModel{}, fmt.Errorf("claim job %s: %w", candidate.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			// Another worker claimed it first.
			return JobModel{}, database.ErrNotFound
		}

		candidate.State = string(job.StateActive)
		candidate.AttemptsMade++
		return candidate, nil
	})
	if err != nil {
		return job.Job{}, err
	}
	return toDomainJob(claimed)
}

// Save persists a job's current state, used after Complete/Retry/Fail
// transitions and progress updates.
func (s JobStore) Save(ctx context.Context, j job.Job) error {
	model, err := toModelJob(j)
	if err != nil {
		return err
	}
	if err := s.db.Session(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("save job %s: %w", j.ID(), err)
	}
	return nil
}

// Get fetches a job by id. Returns database.ErrNotFound when absent.
func (s JobStore) Get(ctx context.Context, id string) (job.Job, error) {
	var model JobModel
	err := s.db.Session(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return job.Job{}, database.ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return toDomainJob(model)
}

// ListFailed lists every job currently in the failed state, most
// recently updated first — backs GET /jobs/failed.
func (s JobStore) ListFailed(ctx context.Context) ([]job.Job, error) {
	var models []JobModel
	q := database.NewQuery().
		Equal("state", string(job.StateFailed)).
		OrderDesc("updated_at")
	if err := q.Apply(s.db.Session(ctx)).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	return toDomainJobs(models)
}

// Retry resets a failed job back to waiting for immediate re-enqueue —
// backs POST /jobs/retry/{jobId}.
func (s JobStore) Retry(ctx context.Context, id string) error {
	result := s.db.Session(ctx).Model(&JobModel{}).
		Where("id = ? AND state = ?", id, string(job.StateFailed)).
		Updates(map[string]any{
			"state":         string(job.StateWaiting),
			"attempts_made": 0,
			"failed_reason": "",
			"run_after":     time.Now(),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("retry job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return database.ErrNotFound
	}
	return nil
}

// RetryAll resets every failed job back to waiting, returning the count
// affected — backs POST /jobs/retry/all.
func (s JobStore) RetryAll(ctx context.Context) (int64, error) {
	result := s.db.Session(ctx).Model(&JobModel{}).
		Where("state = ?", string(job.StateFailed)).
		Updates(map[string]any{
			"state":         string(job.StateWaiting),
			"attempts_made": 0,
			"failed_reason": "",
			"run_after":     time.Now(),
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("retry all failed jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneRetention enforces the job retention policy: completed jobs
// older than completedTTL or beyond the most recent completedMax are
// deleted; failed jobs older than failedTTL are deleted. Intended to run
// periodically from the worker's maintenance loop.
func (s JobStore) PruneRetention(ctx context.Context, completedTTL time.Duration, completedMax int, failedTTL time.Duration) error {
	expiredCompleted := database.NewQuery().
		Equal("state", string(job.StateCompleted)).
		LessThan("updated_at", time.Now().Add(-completedTTL))
	if err := expiredCompleted.Apply(s.db.Session(ctx)).Delete(&JobModel{}).Error; err != nil {
		return fmt.Errorf("prune expired completed jobs: %w", err)
	}

	var excessIDs []string
	err := s.db.Session(ctx).Model(&JobModel{}).
		Where("state = ?", string(job.StateCompleted)).
		Order("updated_at desc").
		Offset(completedMax).
		Pluck("id", &excessIDs).Error
	if err != nil {
		return fmt.Errorf("find excess completed jobs: %w", err)
	}
	if len(excessIDs) > 0 {
		if err := s.db.Session(ctx).Where("id IN ?", excessIDs).Delete(&JobModel{}).Error; err != nil {
			return fmt.Errorf("prune excess completed jobs: %w", err)
		}
	}

	expiredFailed := database.NewQuery().
		Equal("state", string(job.StateFailed)).
		LessThan("updated_at", time.Now().Add(-failedTTL))
	if err := expiredFailed.Apply(s.db.Session(ctx)).Delete(&JobModel{}).Error; err != nil {
		return fmt.Errorf("prune expired failed jobs: %w", err)
	}
	return nil
}

func toModelJob(j job.Job) (JobModel, error) {
	metaJSON, err := json.Marshal(j.Payload().Meta)
	if err != nil {
		return JobModel{}, fmt.Errorf("marshal job meta: %w", err)
	}
	p := j.Payload()
	return JobModel{
		ID:           j.ID(),
		RepoURL:      p.RepoURL,
		Ref:          p.Ref,
		Token:        p.Token,
		UserID:       p.UserID,
		RepoID:       p.RepoID,
		Meta:         metaJSON,
		State:        string(j.State()),
		Progress:     j.Progress(),
		AttemptsMade: j.AttemptsMade(),
		MaxAttempts:  j.MaxAttempts(),
		FailedReason: j.FailedReason(),
		QueuedAt:     j.QueuedAt(),
		RunAfter:     j.RunAfter(),
		CreatedAt:    j.CreatedAt(),
		UpdatedAt:    j.UpdatedAt(),
	}, nil
}

func toDomainJob(m JobModel) (job.Job, error) {
	meta := map[string]any{}
	if len(m.Meta) > 0 {
		if err := json.Unmarshal(m.Meta, &meta); err != nil {
			return job.Job{}, fmt.Errorf("unmarshal job meta: %w", err)
		}
	}
	payload := job.Payload{
		RepoURL: m.RepoURL,
		Ref:     m.Ref,
		Token:   m.Token,
		UserID:  m.UserID,
		RepoID:  m.RepoID,
		Meta:    meta,
	}
	return job.Reconstruct(
		m.ID, payload, job.State(m.State), m.Progress, m.AttemptsMade, m.MaxAttempts,
		m.FailedReason, m.QueuedAt, m.RunAfter, m.CreatedAt, m.UpdatedAt,
	), nil
}

func toDomainJobs(models []JobModel) ([]job.Job, error) {
	out := make([]job.Job, 0, len(models))
	for _, m := range models {
		j, err := toDomainJob(m)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
