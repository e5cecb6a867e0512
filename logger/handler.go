package logger

import (
	"context"
	"log/slog"
)

// ModuleHandler is a slog.Handler that filters records through the per-module
// level of a ModuleConfig before delegating to an inner handler. The module
// name is fixed when the handler is created; the configured module level
// overrides whatever level the inner handler was built with, so a module can
// be turned up to debug (or down to error) without touching the rest of the
// process.
type ModuleHandler struct {
	inner  slog.Handler
	module string
	config *ModuleConfig
}

// NewModuleHandler creates a handler for the given module name backed by the
// given module configuration.
func NewModuleHandler(inner slog.Handler, module string, config *ModuleConfig) *ModuleHandler {
	return &ModuleHandler{
		inner:  inner,
		module: module,
		config: config,
	}
}

// Enabled reports whether the handler handles records at the given level,
// according to the module configuration.
func (h *ModuleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.config.LevelFor(h.module)
}

// Handle processes the log record, adding the module name as an attribute.
//
//nolint:gocritic // slog.Record is passed by value per slog.Handler interface contract
func (h *ModuleHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.config.LevelFor(h.module) {
		return nil
	}

	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)

	if h.module != "" {
		newRecord.AddAttrs(slog.String("logger", h.module))
	}

	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(a)
		return true
	})

	return h.inner.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with the given attributes added.
// The attributes are added to the inner handler.
func (h *ModuleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ModuleHandler{
		inner:  h.inner.WithAttrs(attrs),
		module: h.module,
		config: h.config,
	}
}

// WithGroup returns a new handler with the given group name.
// The group is added to the inner handler.
func (h *ModuleHandler) WithGroup(name string) slog.Handler {
	return &ModuleHandler{
		inner:  h.inner.WithGroup(name),
		module: h.module,
		config: h.config,
	}
}

// compile-time check that ModuleHandler implements slog.Handler
var _ slog.Handler = (*ModuleHandler)(nil)
