// Package schedule runs sync jobs in-process: cron cadence, a bounded worker pool,
// per-job single flight and backoff retries.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dexsync/ledgersync/pkg/retry"
)

// JobFunc is one run of a job.
type JobFunc func(ctx context.Context) error

var ErrUnknownJob = errors.New("unknown job")

// Options configure a Runner.
type Options struct {
	MaxConcurrency int
	// JobTimeout bounds one run; zero means unbounded.
	JobTimeout time.Duration
	// Backoff is the retry policy after a failed run. MaxRetries caps consecutive retries
	// before waiting for the next cron tick.
	Backoff retry.Config
	// Benign errors are logged at debug level and never retried.
	Benign []error
}

type job struct {
	name string
	fn   JobFunc

	mu       sync.Mutex
	failures int
	retry    *Task
}

// Runner schedules registered jobs. A job never runs concurrently with itself.
type Runner struct {
	logger   *zap.Logger
	opts     Options
	cron     *cron.Cron
	pool     pond.Pool
	jobs     *xsync.Map[string, *job]
	inflight *xsync.Map[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(logger *zap.Logger, opts Options) *Runner {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff = retry.Config{
			MaxRetries:    5,
			InitialDelay:  5 * time.Second,
			MaxDelay:      5 * time.Minute,
			Multiplier:    2,
			JitterEnabled: true,
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger:   logger,
		opts:     opts,
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		pool:     pond.NewPool(opts.MaxConcurrency),
		jobs:     xsync.NewMap[string, *job](),
		inflight: xsync.NewMap[string, struct{}](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add registers fn under name and triggers it on the cron spec (seconds field included).
// An empty spec registers a job that only runs through Trigger.
func (r *Runner) Add(name, spec string, fn JobFunc) error {
	if _, loaded := r.jobs.LoadOrStore(name, &job{name: name, fn: fn}); loaded {
		return fmt.Errorf("job %s already registered", name)
	}
	if spec == "" {
		return nil
	}
	if _, err := r.cron.AddFunc(spec, func() { _, _ = r.Trigger(name) }); err != nil {
		r.jobs.Delete(name)
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Every registers fn to run at a fixed interval.
func (r *Runner) Every(name string, interval time.Duration, fn JobFunc) error {
	return r.Add(name, fmt.Sprintf("@every %s", interval), fn)
}

// Once registers fn under name if absent and triggers it. Used for ad-hoc jobs such as pool reloads.
func (r *Runner) Once(name string, fn JobFunc) (bool, error) {
	r.jobs.LoadOrStore(name, &job{name: name, fn: fn})
	return r.Trigger(name)
}

// Trigger submits a run of name. It reports false when a run is already in flight.
func (r *Runner) Trigger(name string) (bool, error) {
	j, ok := r.jobs.Load(name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if r.ctx.Err() != nil {
		return false, r.ctx.Err()
	}
	if _, running := r.inflight.LoadOrStore(name, struct{}{}); running {
		r.logger.Debug("Job still running, skipping trigger", zap.String("job", name))
		return false, nil
	}

	r.pool.Submit(func() {
		defer r.inflight.Delete(name)
		r.run(j)
	})
	return true, nil
}

func (r *Runner) run(j *job) {
	ctx := r.ctx
	if r.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.JobTimeout)
		defer cancel()
	}

	err := j.fn(ctx)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.retry != nil {
		j.retry.Cancel()
		j.retry = nil
	}

	switch {
	case err == nil:
		j.failures = 0
		return
	case r.benign(err):
		r.logger.Debug("Job skipped", zap.String("job", j.name), zap.Error(err))
		return
	case r.ctx.Err() != nil:
		return
	}

	j.failures++
	if j.failures > r.opts.Backoff.MaxRetries {
		r.logger.Error("Job failed, waiting for next tick",
			zap.String("job", j.name),
			zap.Int("failures", j.failures),
			zap.Error(err))
		j.failures = 0
		return
	}
	delay := retry.Backoff(r.opts.Backoff, j.failures)
	r.logger.Warn("Job failed, retrying",
		zap.String("job", j.name),
		zap.Int("attempt", j.failures),
		zap.Duration("retry_in", delay),
		zap.Error(err))
	j.retry = After(delay, func() { _, _ = r.Trigger(j.name) })
}

func (r *Runner) benign(err error) bool {
	for _, b := range r.opts.Benign {
		if errors.Is(err, b) {
			return true
		}
	}
	return false
}

// Start begins cron ticks.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("Local scheduler started", zap.Int("max_concurrency", r.opts.MaxConcurrency))
}

// Stop halts ticks, cancels pending retries and running jobs, then waits for the pool to drain.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.cancel()
	r.jobs.Range(func(_ string, j *job) bool {
		j.mu.Lock()
		if j.retry != nil {
			j.retry.Cancel()
			j.retry = nil
		}
		j.mu.Unlock()
		return true
	})
	r.pool.StopAndWait()
}

// Running lists the jobs currently in flight.
func (r *Runner) Running() []string {
	var out []string
	r.inflight.Range(func(name string, _ struct{}) bool {
		out = append(out, name)
		return true
	})
	return out
}
