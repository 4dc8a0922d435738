package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

// JobRunRepo is the persistence side of the job queue. Claiming is a
// single-row lock-and-update so concurrent workers never run the same job.
type JobRunRepo interface {
	Enqueue(dbc dbctx.Context, jobType string, documentID uuid.UUID, payload []byte) (*domain.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.JobRun, error)
	MarkDone(dbc dbctx.Context, id uuid.UUID) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, jobErr error, maxAttempts int) error
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasRunnableForDocument(dbc dbctx.Context, jobType string, documentID uuid.UUID) (bool, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRunRepo) Enqueue(dbc dbctx.Context, jobType string, documentID uuid.UUID, payload []byte) (*domain.JobRun, error) {
	if jobType == "" || documentID == uuid.Nil {
		return nil, errors.New("jobType and documentID required")
	}
	// One runnable job per document+type; a duplicate enqueue is a no-op.
	exists, err := r.HasRunnableForDocument(dbc, jobType, documentID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}
	docID := documentID
	job := &domain.JobRun{
		JobType:    jobType,
		DocumentID: &docID,
		Status:     domain.JobQueued,
		Payload:    payload,
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.JobRun, error) {
	var job domain.JobRun
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*domain.JobRun, error) {
	transaction := r.handle(dbc)
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *domain.JobRun
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job domain.JobRun
		q := txx
		// SKIP LOCKED keeps competing workers from serializing on the same
		// row; SQLite has no row locks, which is fine single-process.
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		q = q.Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, domain.JobQueued, domain.JobFailed, maxAttempts, retryCutoff, domain.JobRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.JobRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = domain.JobRunning
		job.Attempts++
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) MarkDone(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.JobRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.JobDone,
			"error":      "",
			"updated_at": now,
		}).Error
}

// MarkFailed records the error and moves the job to failed, or to dead
// once the attempt bound is reached. Dead jobs are never claimed again.
func (r *jobRunRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, jobErr error, maxAttempts int) error {
	if id == uuid.Nil {
		return nil
	}
	job, err := r.GetByID(dbc, id)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	status := domain.JobFailed
	if job.Attempts >= maxAttempts {
		status = domain.JobDead
		r.log.Error("Job exhausted attempts, moving to dead letter",
			"job_id", id, "job_type", job.JobType, "attempts", job.Attempts, "error", jobErr)
	}
	now := time.Now()
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.JobRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error":         msg,
			"last_error_at": now,
			"updated_at":    now,
		}).Error
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.JobRun{}).
		Where("id = ? AND status = ?", id, domain.JobRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *jobRunRepo) HasRunnableForDocument(dbc dbctx.Context, jobType string, documentID uuid.UUID) (bool, error) {
	if jobType == "" || documentID == uuid.Nil {
		return false, nil
	}
	// Failed jobs count too: MarkFailed parks exhausted jobs as dead, so a
	// failed job is always still claimable and a second enqueue would race it.
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.JobRun{}).
		Where("job_type = ? AND document_id = ? AND status IN ?",
			jobType, documentID, []string{domain.JobQueued, domain.JobRunning, domain.JobFailed},
		).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
