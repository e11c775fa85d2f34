package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "lotledger/internal/core/context"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{zap.New(core).Sugar()}, logs
}

func TestWithFields_FollowContext(t *testing.T) {
	l, logs := observed()
	ctx := WithLogger(context.Background(), l)
	ctx = appctx.WithTrace(ctx, &appctx.TraceContext{TraceID: "t-1", RequestID: "r-1"})
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "u-1"})

	opCtx := WithFields(ctx, "operation_id", "op-1")
	Info(opCtx, "stock adjusted", "entries", 2)
	Warn(ctx, "outside")

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0].ContextMap()
	assert.Equal(t, "op-1", first["operation_id"])
	assert.Equal(t, "t-1", first["trace_id"])
	assert.Equal(t, "r-1", first["request_id"])
	assert.Equal(t, "u-1", first["user_id"])
	assert.EqualValues(t, 2, first["entries"])

	assert.NotContains(t, logs.All()[1].ContextMap(), "operation_id")
}

func TestWithComponent(t *testing.T) {
	l, logs := observed()
	l.WithComponent("scanner").Info("tick")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "scanner", logs.All()[0].LoggerName)
	assert.Equal(t, "scanner", logs.All()[0].ContextMap()["component"])
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Format: "xml"})
	assert.Error(t, err)

	l, err := New(Config{Level: "debug", Format: FormatJSON, Service: "lotledger", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.True(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
}

func TestDefault_UsesSetDefault(t *testing.T) {
	prev := fallback.Load()
	t.Cleanup(func() { fallback.Store(prev) })

	l, logs := observed()
	SetDefault(l)
	Error(context.Background(), "no logger in context")
	assert.Equal(t, 1, logs.Len())
}
