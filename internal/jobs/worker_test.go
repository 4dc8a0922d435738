package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

// memJobRepo is an in-memory JobRunRepo with the same claim semantics as
// the database-backed one, minus row locking.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.JobRun
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[uuid.UUID]*domain.JobRun)}
}

func (r *memJobRepo) Enqueue(_ dbctx.Context, jobType string, documentID uuid.UUID, _ []byte) (*domain.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := &domain.JobRun{
		ID:         uuid.New(),
		JobType:    jobType,
		DocumentID: &documentID,
		Status:     domain.JobQueued,
		CreatedAt:  time.Now(),
	}
	r.jobs[job.ID] = job
	return job, nil
}

func (r *memJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) ClaimNextRunnable(_ dbctx.Context, maxAttempts int, retryDelay, _ time.Duration) (*domain.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var pick *domain.JobRun
	for _, job := range r.jobs {
		runnable := job.Status == domain.JobQueued ||
			(job.Status == domain.JobFailed && job.Attempts < maxAttempts &&
				(job.LastErrorAt == nil || job.LastErrorAt.Before(now.Add(-retryDelay))))
		if !runnable {
			continue
		}
		if pick == nil || job.CreatedAt.Before(pick.CreatedAt) {
			pick = job
		}
	}
	if pick == nil {
		return nil, nil
	}
	pick.Status = domain.JobRunning
	pick.Attempts++
	pick.LockedAt = &now
	pick.HeartbeatAt = &now
	cp := *pick
	return &cp, nil
}

func (r *memJobRepo) MarkDone(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Status = domain.JobDone
	}
	return nil
}

func (r *memJobRepo) MarkFailed(_ dbctx.Context, id uuid.UUID, jobErr error, maxAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return errors.New("not found")
	}
	now := time.Now()
	job.Error = jobErr.Error()
	job.LastErrorAt = &now
	if job.Attempts >= maxAttempts {
		job.Status = domain.JobDead
	} else {
		job.Status = domain.JobFailed
	}
	return nil
}

func (r *memJobRepo) Heartbeat(_ dbctx.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		now := time.Now()
		job.HeartbeatAt = &now
	}
	return nil
}

func (r *memJobRepo) HasRunnableForDocument(_ dbctx.Context, jobType string, documentID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.JobType == jobType && job.DocumentID != nil && *job.DocumentID == documentID &&
			job.Status != domain.JobDone && job.Status != domain.JobDead {
			return true, nil
		}
	}
	return false, nil
}

func (r *memJobRepo) status(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

func newWorkerLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWorkerRunsJobToDone(t *testing.T) {
	repo := newMemJobRepo()
	documentID := uuid.New()
	job, _ := repo.Enqueue(dbctx.New(context.Background()), domain.JobTypeDocumentIngest, documentID, nil)

	var mu sync.Mutex
	var handledDoc uuid.UUID
	w := NewWorker(newWorkerLogger(t), repo, Options{Concurrency: 1, PollInterval: 10 * time.Millisecond})
	w.Register(domain.JobTypeDocumentIngest, func(_ context.Context, j *domain.JobRun) error {
		mu.Lock()
		handledDoc = *j.DocumentID
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return repo.status(job.ID) == domain.JobDone })
	mu.Lock()
	defer mu.Unlock()
	if handledDoc != documentID {
		t.Fatalf("handler saw document %s, want %s", handledDoc, documentID)
	}
}

func TestWorkerRetriesThenParksDead(t *testing.T) {
	repo := newMemJobRepo()
	job, _ := repo.Enqueue(dbctx.New(context.Background()), domain.JobTypeDocumentIngest, uuid.New(), nil)

	var mu sync.Mutex
	attempts := 0
	w := NewWorker(newWorkerLogger(t), repo, Options{
		Concurrency:  1,
		MaxAttempts:  2,
		RetryDelay:   time.Nanosecond,
		PollInterval: 10 * time.Millisecond,
	})
	w.Register(domain.JobTypeDocumentIngest, func(context.Context, *domain.JobRun) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("always fails")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return repo.status(job.ID) == domain.JobDead })
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	repo := newMemJobRepo()
	job, _ := repo.Enqueue(dbctx.New(context.Background()), domain.JobTypeDocumentIngest, uuid.New(), nil)

	w := NewWorker(newWorkerLogger(t), repo, Options{
		Concurrency:  1,
		MaxAttempts:  1,
		PollInterval: 10 * time.Millisecond,
	})
	w.Register(domain.JobTypeDocumentIngest, func(context.Context, *domain.JobRun) error {
		panic("handler exploded")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return repo.status(job.ID) == domain.JobDead })
}

func TestWorkerFailsUnknownJobType(t *testing.T) {
	repo := newMemJobRepo()
	job, _ := repo.Enqueue(dbctx.New(context.Background()), "no_such_type", uuid.New(), nil)

	w := NewWorker(newWorkerLogger(t), repo, Options{
		Concurrency:  1,
		MaxAttempts:  1,
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return repo.status(job.ID) == domain.JobDead })
}
