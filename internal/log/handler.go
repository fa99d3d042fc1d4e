package log

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openadapt/adapt/internal/scrub"
)

const redacted = "[REDACTED]"

// Attribute keys whose values are dropped outright.
var credentialKeyFragments = []string{"secret", "token", "password", "api_key", "apikey", "authorization"}

// Attribute keys that carry recorded user content: typed text, window
// titles, task descriptions and LLM traffic. Their values are scrubbed.
var contentKeys = map[string]struct{}{
	"text":         {},
	"key_char":     {},
	"title":        {},
	"window_title": {},
	"task":         {},
	"instructions": {},
	"prompt":       {},
	"output":       {},
}

// scrubHandler keeps credentials and personal data out of log sinks.
type scrubHandler struct {
	inner slog.Handler
}

func newScrubHandler(inner slog.Handler) slog.Handler {
	return &scrubHandler{inner: inner}
}

func (h *scrubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *scrubHandler) Handle(ctx context.Context, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fallback := slog.NewRecord(record.Time, slog.LevelError, "log scrubbing panic recovered", record.PC)
			fallback.AddAttrs(slog.String("panic", redacted))
			err = h.inner.Handle(ctx, fallback)
		}
	}()

	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(scrubAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *scrubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		clean = append(clean, scrubAttr(attr))
	}
	return &scrubHandler{inner: h.inner.WithAttrs(clean)}
}

func (h *scrubHandler) WithGroup(name string) slog.Handler {
	return &scrubHandler{inner: h.inner.WithGroup(name)}
}

func scrubAttr(attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	for _, fragment := range credentialKeyFragments {
		if strings.Contains(key, fragment) {
			return slog.String(attr.Key, redacted)
		}
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindGroup:
		group := value.Group()
		clean := make([]slog.Attr, 0, len(group))
		for _, nested := range group {
			clean = append(clean, scrubAttr(nested))
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(clean...)}
	case slog.KindString:
		if _, ok := contentKeys[key]; ok {
			return slog.String(attr.Key, scrub.Text(value.String()))
		}
	}
	return slog.Attr{Key: attr.Key, Value: value}
}
