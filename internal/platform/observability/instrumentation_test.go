package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBuffer(t *testing.T, enabled bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	shutdown, err := Setup(context.Background(), Config{Enabled: enabled}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	buf.Reset()
	return &buf
}

func TestStartSpanNestsIDs(t *testing.T) {
	buf := setupBuffer(t, true)

	ctx, endOuter := StartSpan(context.Background(), "launchkey", "authorize")
	outer := SpanID(ctx)
	require.NotEmpty(t, outer)

	inner, endInner := StartSpan(ctx, "transport", "POST auths")
	assert.NotEqual(t, outer, SpanID(inner))
	endInner(errors.New("boom"))
	endOuter(nil)

	out := buf.String()
	assert.Contains(t, out, `"parent_id":"`+outer+`"`)
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"operation":"authorize"`)
}

func TestDisabledEmitsNothing(t *testing.T) {
	buf := setupBuffer(t, false)

	ctx, end := StartSpan(context.Background(), "launchkey", "ping")
	end(nil)
	RecordMetric(ctx, "launchkey.ping", 1, nil)

	assert.Empty(t, buf.String())
	assert.Empty(t, SpanID(ctx))
	assert.False(t, Enabled())
}

func TestRecordMetric(t *testing.T) {
	buf := setupBuffer(t, true)

	RecordMetric(context.Background(), "launchkey.deorbit", 1, map[string]string{"outcome": "confirmed"})

	assert.Contains(t, buf.String(), `"metric":"launchkey.deorbit"`)
	assert.Contains(t, buf.String(), `"outcome":"confirmed"`)
}
