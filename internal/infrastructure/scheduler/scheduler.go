package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one unit of scheduled work. Its error is reported to the
// scheduler's logger and otherwise ignored.
type Job func(ctx context.Context) error

// Logger receives cron's own events through cron.Logger and the scheduler's
// skip warnings through Warnw.
type Logger interface {
	cron.Logger
	Warnw(msg string, keysAndValues ...interface{})
}

// Scheduler runs a single job on a UTC cron schedule. At most one execution
// runs at a time: a trigger that fires while the job is still running is
// skipped, whether it came from the schedule or from TriggerNow.
type Scheduler struct {
	cron   *cron.Cron
	logger Logger
	job    Job
	entry  cron.EntryID

	running atomic.Bool
	onSkip  func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

// WithSkipHook registers a callback invoked for every skipped trigger.
func WithSkipHook(fn func()) Option {
	return func(s *Scheduler) { s.onSkip = fn }
}

func New(logger Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers job on a standard 5-field cron spec evaluated in UTC.
// Only one job may be scheduled.
func (s *Scheduler) Schedule(spec string, job Job) error {
	if s.job != nil {
		return fmt.Errorf("a job is already scheduled")
	}
	id, err := s.cron.AddFunc(spec, func() { s.execute() })
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	s.job = job
	s.entry = id
	return nil
}

// TriggerNow starts the job in the background outside the schedule. It
// returns false when the job is already running.
func (s *Scheduler) TriggerNow() bool {
	if s.job == nil || !s.running.CompareAndSwap(false, true) {
		s.skip("manual")
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.run("manual")
	}()
	return true
}

func (s *Scheduler) execute() {
	if !s.running.CompareAndSwap(false, true) {
		s.skip("schedule")
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer s.running.Store(false)
	s.run("schedule")
}

func (s *Scheduler) run(trigger string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("%v", r), "backup job panicked", "trigger", trigger)
		}
	}()
	if err := s.job(s.ctx); err != nil {
		s.logger.Error(err, "backup job failed", "trigger", trigger)
	}
}

func (s *Scheduler) skip(trigger string) {
	s.logger.Warnw("Backup trigger skipped, a run is already in progress", "trigger", trigger)
	if s.onSkip != nil {
		s.onSkip()
	}
}

// Running reports whether the job is executing right now.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Next returns the next scheduled fire time, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing new triggers, cancels the context handed to a running
// job and waits for it to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.wg.Wait()
}
