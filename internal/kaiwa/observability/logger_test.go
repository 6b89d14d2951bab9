package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/kaiwa/common/trace"
	"github.com/bdobrica/kaiwa/internal/kaiwa/observability"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, observability.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, observability.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, observability.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, observability.ParseLevel("verbose"))
}

func TestNewLogger_JSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(&buf, "info", "json", "syt_supersecret")

	logger.Info("sync failed",
		"err", errors.New("401 for token syt_supersecret"),
		"access_token", "syt_supersecret",
	)
	logger.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sync failed", rec["msg"])
	assert.Equal(t, "401 for token [REDACTED]", rec["err"])
	assert.Equal(t, "[REDACTED]", rec["access_token"])
	assert.NotContains(t, buf.String(), "supersecret")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(&buf, "info", "text")

	observability.WithTrace(context.Background(), logger).Info("no trace")
	assert.NotContains(t, buf.String(), "trace_id")

	ctx := trace.WithTraceID(context.Background(), "t_abc")
	observability.WithTrace(ctx, logger).Info("traced")
	assert.Contains(t, buf.String(), "trace_id=t_abc")
}
