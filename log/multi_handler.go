package log

import (
	"context"
	"errors"
	"log/slog"
)

// MultiHandler sends each record to every child that accepts its level.
//
// TODO: replace with slog.NewMultiHandler once go.mod targets Go 1.26.
type MultiHandler struct {
	children []slog.Handler
}

// NewMultiHandler drops nil children.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	h := &MultiHandler{}
	for _, child := range handlers {
		if child != nil {
			h.children = append(h.children, child)
		}
	}
	return h
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, child := range h.children {
		if child.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle hands every child its own clone of record and joins their errors.
func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, child := range h.children {
		if !child.Enabled(ctx, record.Level) {
			continue
		}
		if err := child.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(child slog.Handler) slog.Handler { return child.WithAttrs(attrs) })
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(func(child slog.Handler) slog.Handler { return child.WithGroup(name) })
}

func (h *MultiHandler) derive(fn func(slog.Handler) slog.Handler) *MultiHandler {
	out := &MultiHandler{children: make([]slog.Handler, len(h.children))}
	for i, child := range h.children {
		out.children[i] = fn(child)
	}
	return out
}
