// Package worker provides the ticker loop and clock helpers the scheduler
// builds on.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// pollInterval is the sleep between ticker checks to prevent busy-waiting.
const pollInterval = 100 * time.Millisecond

// Task is one periodically triggered job.
type Task struct {
	Name     string
	Interval time.Duration
	// RunOnStart fires the task once before the first tick.
	RunOnStart bool
	Run        func(ctx context.Context)
}

// Config configures a ticker loop.
type Config struct {
	Name   string
	Tasks  []Task
	Logger *zerolog.Logger
}

// Loop runs each task on its own ticker until the context is cancelled.
// Returns the wrapped context error.
func Loop(ctx context.Context, cfg Config) error {
	logger := getLogger(cfg.Logger)
	logger.Info().Str("worker", cfg.Name).Msg("starting ticker loop")

	defer logger.Info().Str("worker", cfg.Name).Msg("ticker loop stopped")

	if len(cfg.Tasks) == 0 {
		<-ctx.Done()

		return fmt.Errorf("ticker loop %s: %w", cfg.Name, ctx.Err())
	}

	tickers := make([]*time.Ticker, len(cfg.Tasks))

	for i, task := range cfg.Tasks {
		if task.Interval > 0 {
			tickers[i] = time.NewTicker(task.Interval)
		}
	}

	defer func() {
		for _, t := range tickers {
			if t != nil {
				t.Stop()
			}
		}
	}()

	for i, task := range cfg.Tasks {
		if task.RunOnStart && task.Run != nil && tickers[i] != nil {
			logger.Debug().Str("task", task.Name).Msg("running initial task")
			task.Run(ctx)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("ticker loop %s: %w", cfg.Name, ctx.Err())
		default:
		}

		for i, task := range cfg.Tasks {
			if tickers[i] == nil || task.Run == nil {
				continue
			}

			select {
			case <-tickers[i].C:
				logger.Debug().Str("task", task.Name).Msg("ticker fired")
				task.Run(ctx)
			default:
			}
		}

		if err := Wait(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// Wait blocks until the duration elapses or the context is cancelled.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// RecoverPanic recovers from panics and logs them.
// Use as: defer worker.RecoverPanic(logger, "operation name")
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("operation", operation).
			Msg("recovered from panic")
	}
}

func getLogger(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()

		return &nop
	}

	return logger
}
