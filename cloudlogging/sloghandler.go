package cloudlogging

import (
	"context"
	"log/slog"
	"strings"
)

// SlogHandler forwards slog records to Cloud Logging through a Client.
// Records are written synchronously; use it for low-volume operational
// logs, not hot paths.
type SlogHandler struct {
	client *Client
	logID  string
	level  slog.Leveler

	attrs  []slog.Attr
	groups []string
}

// NewSlogHandler builds a handler writing to the named log at or above
// level. A nil level forwards everything from Info up.
func NewSlogHandler(client *Client, logID string, level slog.Leveler) *SlogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SlogHandler{client: client, logID: logID, level: level}
}

// Enabled implements slog.Handler.
func (h *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler, writing the record as one structured
// entry with the message under "message" and attrs as sibling fields.
func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	payload := map[string]any{"message": r.Message}
	for _, a := range h.attrs {
		addAttr(payload, nil, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(payload, h.groups, a)
		return true
	})
	return h.client.WriteLog(ctx, h.logID, payload, severityFor(r.Level), nil)
}

// WithAttrs implements slog.Handler. Attr keys are qualified with the
// groups open at the time they are added.
func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr{}, h.attrs...)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

// addAttr flattens an attr into payload, prefixing keys with the open
// group names ("request.method").
func addAttr(payload map[string]any, groups []string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(payload, append(groups, a.Key), ga)
		}
		return
	}
	key := a.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}
	payload[key] = v.Any()
}

func severityFor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return SeverityError
	case level >= slog.LevelWarn:
		return SeverityWarning
	case level >= slog.LevelInfo:
		return SeverityInfo
	default:
		return SeverityDebug
	}
}
