// Package scheduler drives mailer jobs. Recurring jobs run on standard
// five-field cron specs, one-shot jobs on timers that remove themselves
// after firing.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/foxzi/gratulo/internal/models"
)

const defaultRunTimeout = 10 * time.Minute

// Runner executes one mailer job for a point in time.
type Runner interface {
	RunJob(ctx context.Context, jobID int64, now time.Time) (*models.JobLog, error)
}

// JobLister supplies the jobs the scheduler should hold.
type JobLister interface {
	ListEnabled() ([]models.MailerJob, error)
}

type Scheduler struct {
	cron       *cron.Cron
	runner     Runner
	jobs       JobLister
	logger     *slog.Logger
	runTimeout time.Duration

	mu      sync.Mutex
	entries map[int64]cron.EntryID
	timers  map[int64]*time.Timer
}

func New(runner Runner, jobs JobLister, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.Local)),
		runner:     runner,
		jobs:       jobs,
		logger:     logger,
		runTimeout: defaultRunTimeout,
		entries:    make(map[int64]cron.EntryID),
		timers:     make(map[int64]*time.Timer),
	}
}

// Start registers all enabled jobs and starts the cron engine.
func (s *Scheduler) Start() error {
	if err := s.Resync(); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.Registered()))
	return nil
}

// Stop halts the engine and pending timers, waiting for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// Register schedules one job, replacing any earlier registration. Disabled
// jobs are only unregistered. A one-shot time already in the past is not
// fired again; the run either happened or was missed for good.
func (s *Scheduler) Register(job *models.MailerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(job.ID)

	if !job.Enabled {
		return nil
	}

	if job.OnceAt != nil {
		delay := time.Until(*job.OnceAt)
		if delay < 0 {
			s.logger.Warn("skipping stale one-shot job", "job_id", job.ID, "once_at", *job.OnceAt)
			return nil
		}
		id := job.ID
		s.timers[id] = time.AfterFunc(delay, func() {
			s.mu.Lock()
			delete(s.timers, id)
			s.mu.Unlock()
			s.fire(id)
		})
		return nil
	}

	entryID, err := s.cron.AddFunc(job.Cron, func() { s.fire(job.ID) })
	if err != nil {
		return err
	}
	s.entries[job.ID] = entryID
	return nil
}

// Unregister drops a job from the schedule.
func (s *Scheduler) Unregister(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(jobID)
}

func (s *Scheduler) remove(jobID int64) {
	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
	if timer, ok := s.timers[jobID]; ok {
		timer.Stop()
		delete(s.timers, jobID)
	}
}

// Resync rebuilds the schedule from the stored jobs. Jobs that fail to
// register, for example with a broken cron spec, are logged and skipped.
func (s *Scheduler) Resync() error {
	jobs, err := s.jobs.ListEnabled()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for id := range s.entries {
		s.cron.Remove(s.entries[id])
		delete(s.entries, id)
	}
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	for i := range jobs {
		if err := s.Register(&jobs[i]); err != nil {
			s.logger.Error("failed to register job", "job_id", jobs[i].ID, "name", jobs[i].Name, "error", err)
		}
	}
	return nil
}

// Registered returns the ids currently on the schedule, sorted.
func (s *Scheduler) Registered() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.entries)+len(s.timers))
	for id := range s.entries {
		ids = append(ids, id)
	}
	for id := range s.timers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NextRuns returns the next firing time per registered job, for display.
// One-shot jobs are reported by their stored time through the job itself,
// not here.
func (s *Scheduler) NextRuns() map[int64]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[int64]time.Time, len(s.entries))
	for id, entryID := range s.entries {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			next[id] = entry.Next
		}
	}
	return next
}

func (s *Scheduler) fire(jobID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	log, err := s.runner.RunJob(ctx, jobID, time.Now())
	if err != nil {
		s.logger.Error("job run failed", "job_id", jobID, "error", err)
		return
	}
	if log != nil {
		s.logger.Info("job run finished",
			"job_id", jobID, "status", log.Status,
			"queued", log.MailsQueued, "duplicates", log.Duplicates, "errors", log.Errors)
	}
}
