package cronjob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultJobTimeout = 5 * time.Minute

// Job outcomes recorded in metrics.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultLocked  = "locked"
	ResultPanic   = "panic"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Schedule string
	// Timeout bounds a single run and the distributed lock TTL.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Locker grants a named lock across replicas. A nil release func means another holder owns it.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// Runner triggers jobs on cron schedules. A run that is still going when its next tick fires
// makes that tick a no-op.
type Runner struct {
	cron    *cron.Cron
	parser  cron.Parser
	logger  *zap.Logger
	metrics *observability.Metrics
	locker  Locker

	mu      sync.Mutex
	baseCtx context.Context
	started bool
}

// NewRunner builds a runner. locker may be nil for single-replica deployments.
func NewRunner(locker Locker, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	cronLogger := zapCronLogger{logger: logger}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Runner{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
		),
		parser:  parser,
		logger:  logger,
		locker:  locker,
		baseCtx: context.Background(),
	}
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Add registers job. Schedules accept optional seconds and descriptors such as "@every 1m".
func (r *Runner) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run func is required", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultJobTimeout
	}

	schedule, err := r.parser.Parse(strings.TrimSpace(job.Schedule))
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}

	r.cron.Schedule(schedule, cron.FuncJob(func() { r.runOnce(job) }))
	r.logger.Info("cron job registered",
		zap.String("job", job.Name),
		zap.String("schedule", job.Schedule),
		zap.Duration("timeout", job.Timeout),
	)
	return nil
}

// Start begins triggering. Runs derive their context from ctx.
func (r *Runner) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.baseCtx = ctx
	r.started = true
	r.cron.Start()
	r.logger.Info("cron runner started", zap.Int("jobs", len(r.cron.Entries())))
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.started = false
	r.mu.Unlock()

	select {
	case <-r.cron.Stop().Done():
		r.logger.Info("cron runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron runner stop: %w", ctx.Err())
	}
}

func (r *Runner) base() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseCtx
}

func (r *Runner) runOnce(job Job) {
	ctx, cancel := context.WithTimeout(r.base(), job.Timeout)
	defer cancel()
	ctx, correlationID := observability.EnsureCorrelationID(ctx)

	logger := r.logger.With(zap.String("job", job.Name), zap.String("correlationId", correlationID))
	start := time.Now()
	result := ResultSuccess

	defer func() {
		if rec := recover(); rec != nil {
			result = ResultPanic
			logger.Error("cron job panicked", zap.Any("panic", rec))
		}
		r.metrics.IncJobRun(job.Name, result)
		if result != ResultLocked {
			logger.Debug("cron job finished", zap.String("result", result), zap.Duration("took", time.Since(start)))
		}
	}()

	if r.locker != nil {
		release, err := r.locker.TryAcquire(ctx, job.Name, job.Timeout)
		if err != nil {
			// Database claims stay authoritative without the lock.
			logger.Warn("cron job lock unavailable, running anyway", zap.Error(err))
		} else if release == nil {
			result = ResultLocked
			logger.Debug("cron job held by another replica, skipping")
			return
		} else {
			defer func() {
				releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer releaseCancel()
				if err := release(releaseCtx); err != nil {
					logger.Warn("failed to release cron job lock", zap.Error(err))
				}
			}()
		}
	}

	if err := job.Run(ctx); err != nil {
		result = ResultError
		logger.Error("cron job failed", zap.Error(err))
	}
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
