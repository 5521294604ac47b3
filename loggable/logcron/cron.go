// Package logcron scopes background-job logging. Each run gets a fresh
// sticky-tag container, job and job_run_id tags, and one completion record
// with duration fields. Panics are logged with a captured stack and, by
// default, recovered so a scheduler survives a bad job.
//
// JobWrapper plugs into robfig/cron chains; Run covers one-off jobs that
// want the same scoping without a scheduler.
package logcron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/lithictech/appydays/loggable"
)

const jobFinishedMessage = "job_finished"

// JobKey and JobRunIDKey name the tags every scoped run carries.
const (
	JobKey      = "job"
	JobRunIDKey = "job_run_id"
)

// Option configures job scoping.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	recoverable bool
}

func defaultConfig() *config {
	return &config{recoverable: true}
}

func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithLogger sets the logger receiving completion records. When nil, the
// context logger (falling back to slog.Default) is used.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithRecovery toggles panic recovery. Enabled by default; when disabled,
// the panic resumes after the completion record is written.
func WithRecovery(enabled bool) Option {
	return func(cfg *config) {
		cfg.recoverable = enabled
	}
}

// JobWrapper returns a cron.JobWrapper that scopes every run of the wrapped
// job. Scheduled jobs run without a caller context, so the scope starts from
// context.Background; jobs that need SetJobTags should use Run instead.
func JobWrapper(name string, opts ...Option) cron.JobWrapper {
	cfg := applyOptions(opts)
	return func(job cron.Job) cron.Job {
		return cron.FuncJob(func() {
			runScoped(context.Background(), name, cfg, func(context.Context) error {
				job.Run()
				return nil
			})
		})
	}
}

// Run executes fn as a named unit of work: fresh sticky container, job and
// job_run_id tags on every record in scope, and a completion record when fn
// returns. fn's error (or a recovered panic, converted to an error) is
// returned to the caller.
func Run(ctx context.Context, name string, logger *slog.Logger, fn func(context.Context) error, opts ...Option) error {
	cfg := applyOptions(opts)
	if logger != nil {
		cfg.logger = logger
	}
	return runScoped(ctx, name, cfg, fn)
}

func runScoped(ctx context.Context, name string, cfg *config, fn func(context.Context) error) (err error) {
	start := time.Now()
	runID := uuid.NewString()

	ctx = loggable.ContextWithStickyTags(ctx)
	ctx = loggable.Tagged(ctx,
		slog.String(JobKey, name),
		slog.String(JobRunIDKey, runID))

	logger := cfg.logger
	if logger == nil {
		logger = loggable.Logger(ctx)
	}
	ctx = loggable.ContextWithLogger(ctx, logger)

	defer func() {
		elapsed := time.Since(start)
		p := recover()
		attrs := []slog.Attr{
			slog.Duration(loggable.DurationKey, elapsed),
			slog.Float64(loggable.DurationMSKey, durationMS(elapsed)),
		}
		switch {
		case p != nil:
			attrs = append(attrs,
				slog.String("panic", fmt.Sprint(p)),
				slog.Any(loggable.StackTraceKey, loggable.CaptureStack()),
			)
			logger.LogAttrs(ctx, loggable.LevelError, jobFinishedMessage, attrs...)
			if !cfg.recoverable {
				panic(p)
			}
			err = fmt.Errorf("job %s panicked: %v", name, p)
		case err != nil:
			attrs = append(attrs, slog.Any("error", err))
			logger.LogAttrs(ctx, loggable.LevelError, jobFinishedMessage, attrs...)
		default:
			logger.LogAttrs(ctx, loggable.LevelInfo, jobFinishedMessage, attrs...)
		}
	}()

	err = fn(ctx)
	return err
}

func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / float64(time.Millisecond)
}
