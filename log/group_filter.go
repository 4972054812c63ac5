package log

import (
	"context"
	"log/slog"
	"strings"
)

// GroupFilterHandler drops records based on the slog groups a logger was
// derived with. Selectors name a group ("registry") or a dotted group path
// ("registry.sql"); a leading "-" excludes instead of includes. Exclusions
// win over inclusions, and with no inclusions every non-excluded record
// passes.
type GroupFilterHandler struct {
	next  slog.Handler
	allow map[string]struct{}
	deny  map[string]struct{}
	path  []string
}

// NewGroupFilterHandler returns next unchanged when selectors holds nothing
// usable.
func NewGroupFilterHandler(next slog.Handler, selectors []string) slog.Handler {
	if next == nil {
		return nil
	}
	allow := map[string]struct{}{}
	deny := map[string]struct{}{}
	for _, sel := range selectors {
		sel = strings.ToLower(strings.TrimSpace(sel))
		switch {
		case strings.HasPrefix(sel, "-") && len(sel) > 1:
			deny[strings.TrimPrefix(sel, "-")] = struct{}{}
		case sel != "" && sel != "-":
			allow[sel] = struct{}{}
		}
	}
	if len(allow) == 0 && len(deny) == 0 {
		return next
	}
	return &GroupFilterHandler{next: next, allow: allow, deny: deny}
}

func (h *GroupFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level) && h.admits()
}

func (h *GroupFilterHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.admits() {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *GroupFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *GroupFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.path = append(append([]string(nil), h.path...), strings.ToLower(name))
	return &clone
}

// selectors lists every name a record under h.path can be matched by: each
// group on its own and each dotted prefix of the path.
func (h *GroupFilterHandler) selectors() []string {
	out := make([]string, 0, 2*len(h.path))
	for i, group := range h.path {
		out = append(out, group)
		if i > 0 {
			out = append(out, strings.Join(h.path[:i+1], "."))
		}
	}
	return out
}

func (h *GroupFilterHandler) admits() bool {
	names := h.selectors()
	for _, name := range names {
		if _, ok := h.deny[name]; ok {
			return false
		}
	}
	if len(h.allow) == 0 {
		return true
	}
	for _, name := range names {
		if _, ok := h.allow[name]; ok {
			return true
		}
	}
	return false
}
