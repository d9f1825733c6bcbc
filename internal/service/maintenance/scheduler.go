package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"FinLearn/pkg/logger"
)

// Job is a scheduled maintenance task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f FuncJob) Name() string                  { return f.JobName }
func (f FuncJob) Run(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler runs jobs on cron schedules in UTC. Runs of the same job never overlap.
type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler; timeout bounds a single job run (0 means none).
func New(log *logger.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		log:     log.With(logger.String("component", "maintenance")),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers job under a cron spec with seconds, e.g. "0 0 0 * * *" or "@every 30s".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.run(job)
	}))
	if _, err := s.cron.AddJob(schedule, wrapped); err != nil {
		return err
	}
	s.log.Info("maintenance job registered",
		logger.String("schedule", schedule),
		logger.String("job", job.Name()),
	)
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("maintenance job panicked", logger.String("job", job.Name()), logger.Any("panic", r))
		}
	}()
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.log.Error("maintenance job failed", logger.String("job", job.Name()), logger.Error(err))
		return
	}
	s.log.Debug("maintenance job completed",
		logger.String("job", job.Name()),
		logger.Duration("duration_ms", time.Since(start)),
	)
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) {
	s.run(job)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("maintenance scheduler started", logger.Int("jobs", len(s.cron.Entries())))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
