package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("trace", "console")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings("loud", "json")
	assert.Error(t, err)
}

func TestLogger_LevelsAndContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "01HZZRUN")
	ctx = WithOwnerID(ctx, "owner-1")
	ctx = WithPhase(ctx, "testing")

	tl.Trace(ctx, "trace message")
	tl.Debug(ctx, "debug message")
	tl.Info(ctx, "info message", zap.Int("iteration", 2))
	tl.Warn(ctx, "warn message")
	tl.Error(ctx, "error message")

	require.Len(t, tl.All(), 5)
	tl.AssertLogged(t, TraceLevel, "trace message")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error message")
	tl.AssertField(t, "info message", "run_id", "01HZZRUN")
	tl.AssertField(t, "info message", "owner_id", "owner-1")
	tl.AssertField(t, "info message", "phase", "testing")
	tl.AssertField(t, "info message", "iteration", int64(2))
	tl.AssertNotLogged(t, zapcore.InfoLevel, "warn message")
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("probe").With(zap.String("endpoint", "http://x"))

	child.Info(context.Background(), "probing")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "probe", entries[0].LoggerName)
	assert.Equal(t, "http://x", entries[0].ContextMap()["endpoint"])
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	tp := trace.NewTracerProvider(trace.WithSampler(trace.AlwaysSample()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(WithRunID(ctx, "r1")) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
	assert.True(t, keys["run_id"])
	assert.False(t, keys["owner_id"])
}

func TestWithOwnerID_IgnoresEmpty(t *testing.T) {
	ctx := WithOwnerID(context.Background(), "")
	assert.Equal(t, "", OwnerIDFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "stored")
	tl.AssertLogged(t, zapcore.InfoLevel, "stored")
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("nope")
	assert.Error(t, err)
}
