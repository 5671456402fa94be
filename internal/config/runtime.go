package config

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// OverrideSource supplies the stored override rows.
type OverrideSource interface {
	ConfigOverrides(ctx context.Context) (map[string]string, error)
}

// Runtime holds the effective tuning tree: the YAML base with DB overrides
// applied. Readers get an immutable snapshot; Reload swaps the whole tree.
type Runtime struct {
	base   *App
	src    OverrideSource
	logger zerolog.Logger
	cur    atomic.Pointer[App]
}

func NewRuntime(base *App, src OverrideSource, logger zerolog.Logger) *Runtime {
	r := &Runtime{base: base, src: src, logger: logger}
	r.cur.Store(base)

	return r
}

// Current returns the last loaded snapshot. Never nil.
func (r *Runtime) Current() *App {
	return r.cur.Load()
}

// Reload re-applies the stored overrides on top of the base tree and swaps
// the snapshot. Invalid override rows are logged and skipped.
func (r *Runtime) Reload(ctx context.Context) (*App, error) {
	overrides, err := r.src.ConfigOverrides(ctx)
	if err != nil {
		return r.Current(), err
	}

	cfg, errs := ApplyOverrides(r.base, overrides)
	for _, aerr := range errs {
		r.logger.Warn().Err(aerr).Msg("skipping stored config override")
	}

	r.cur.Store(cfg)

	return cfg, nil
}
