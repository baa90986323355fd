package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/CurtWal/Touch/internal/models"
	"github.com/CurtWal/Touch/internal/repository"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrInvalidSchedule is returned when a one-shot job is scheduled
	// with a zero time or a time already in the past.
	ErrInvalidSchedule = errors.New("scheduler: invalid run time")
	// ErrUnknownJob is returned when a job name has no registered handler.
	ErrUnknownJob = errors.New("scheduler: no handler for job")
)

// staleGrace allows times slightly in the past so that "schedule now"
// callers racing the clock are not rejected.
const staleGrace = time.Minute

// RetryError is returned from a handler to run the same job again after
// a delay. The claimed row is pushed forward rather than re-inserted,
// so a unique key held by the job stays held across retries.
type RetryError struct {
	After time.Duration
}

func (e *RetryError) Error() string {
	return "scheduler: retry after " + e.After.String()
}

func RetryAfter(after time.Duration) error {
	return &RetryError{After: after}
}

// Handler processes one claimed job. A nil return completes the job, a
// RetryError reschedules it, any other error releases it for the next
// poll to retry.
type Handler func(ctx context.Context, job *models.Job) error

// Handlers maps job names to their handlers. The set is fixed when the
// scheduler is constructed.
type Handlers map[string]Handler

type Options struct {
	PollInterval time.Duration
	LockLease    time.Duration
	Concurrency  int
}

// Scheduler polls the job table for due work and dispatches it to the
// registered handlers. Multiple instances can poll the same table; the
// claim query guarantees each job runs on one instance at a time.
type Scheduler struct {
	repo     repository.JobRepository
	handlers Handlers
	opts     Options

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func New(repo repository.JobRepository, handlers Handlers, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.LockLease <= 0 {
		opts.LockLease = 10 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 20
	}
	return &Scheduler{
		repo:     repo,
		handlers: handlers,
		opts:     opts,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ScheduleAt enqueues a one-shot job. When uniqueKey is non-empty and a
// pending job with the same key exists, the call is a no-op.
func (s *Scheduler) ScheduleAt(ctx context.Context, name string, when time.Time, payload []byte, uniqueKey string) error {
	if _, ok := s.handlers[name]; !ok {
		return ErrUnknownJob
	}
	if when.IsZero() || when.Before(time.Now().Add(-staleGrace)) {
		return ErrInvalidSchedule
	}

	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	return s.repo.InsertUnique(ctx, &models.Job{
		ID:        id,
		Name:      name,
		Payload:   payload,
		UniqueKey: uniqueKey,
		RunAt:     when,
	})
}

// ScheduleEvery installs or replaces a recurring job. The first run is
// one interval from now; each successful run schedules the next.
func (s *Scheduler) ScheduleEvery(ctx context.Context, name string, every time.Duration, payload []byte, uniqueKey string) error {
	if _, ok := s.handlers[name]; !ok {
		return ErrUnknownJob
	}
	if every <= 0 {
		return ErrInvalidSchedule
	}

	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	return s.repo.UpsertRecurring(ctx, &models.Job{
		ID:             id,
		Name:           name,
		Payload:        payload,
		UniqueKey:      uniqueKey,
		RunAt:          time.Now().Add(every),
		RepeatInterval: every,
	})
}

// RunNow enqueues a one-shot job due immediately.
func (s *Scheduler) RunNow(ctx context.Context, name string, payload []byte, uniqueKey string) error {
	return s.ScheduleAt(ctx, name, time.Now(), payload, uniqueKey)
}

// Cancel removes pending jobs of the given name whose payload contains
// the filter. Jobs already claimed by a running handler finish normally.
func (s *Scheduler) Cancel(ctx context.Context, name string, payloadFilter map[string]any) error {
	return s.repo.CancelByFilter(ctx, name, payloadFilter)
}

// Start polls until Stop is called. It blocks; run it in a goroutine.
func (s *Scheduler) Start() {
	defer close(s.done)

	sem := make(chan struct{}, s.opts.Concurrency)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.poll(sem)
	for {
		select {
		case <-s.stop:
			s.wg.Wait()
			return
		case <-ticker.C:
			s.poll(sem)
		}
	}
}

// Stop halts polling and waits for in-flight handlers to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) poll(sem chan struct{}) {
	ctx := context.Background()
	now := time.Now()

	jobs, err := s.repo.ClaimDue(ctx, now, now.Add(s.opts.LockLease), s.opts.Concurrency)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, job := range jobs {
		sem <- struct{}{}
		s.wg.Add(1)
		go func(job *models.Job) {
			defer s.wg.Done()
			defer func() { <-sem }()
			s.dispatch(ctx, job)
		}(job)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job *models.Job) {
	handler, ok := s.handlers[job.Name]
	if !ok {
		// Claimed a job nobody handles; release it so another
		// instance with the handler registered can pick it up.
		if err := s.repo.Release(ctx, job.ID, ErrUnknownJob.Error()); err != nil {
			slog.Info(err.Error())
		}
		return
	}

	if err := handler(ctx, job); err != nil {
		var retry *RetryError
		if errors.As(err, &retry) {
			if rerr := s.repo.Reschedule(ctx, job.ID, time.Now().Add(retry.After)); rerr != nil {
				slog.Info(rerr.Error())
			}
			return
		}
		slog.Error("job failed", "name", job.Name, "id", job.ID, "error", err)
		if rerr := s.repo.Release(ctx, job.ID, err.Error()); rerr != nil {
			slog.Info(rerr.Error())
		}
		return
	}

	if job.Recurring() {
		if err := s.repo.Reschedule(ctx, job.ID, time.Now().Add(job.RepeatInterval)); err != nil {
			slog.Info(err.Error())
		}
		return
	}
	if err := s.repo.Complete(ctx, job.ID); err != nil {
		slog.Info(err.Error())
	}
}
