package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// SpanID returns the id of the innermost span carried by ctx, or "".
func SpanID(ctx context.Context) string {
	if id, ok := ctx.Value(spanKey{}).(string); ok {
		return id
	}
	return ""
}

// StartSpan records a lightweight span around an operation. The returned finish
// func must be called exactly once with the operation's error.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	parent := SpanID(ctx)
	id := uuid.NewString()
	ctx = context.WithValue(ctx, spanKey{}, id)

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "[OBS] span start",
		slog.String("component", component),
		slog.String("operation", operation),
		slog.String("span_id", id),
		slog.String("parent_id", parent),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.String("span_id", id),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		logger.LogAttrs(ctx, level, "[OBS] span end", attrs...)
	}
}

// RecordMetric emits a best-effort metric datapoint via the configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "[OBS] metric", attrs...)
}
