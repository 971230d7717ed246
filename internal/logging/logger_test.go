package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line %q", line)
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithField("service", "curvefit")

	logger.Debug("hidden")
	logger.Info("fit finished", map[string]interface{}{"iterations": 42})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "fit finished", entries[0]["message"])
	assert.Equal(t, "curvefit", entries[0]["service"])
	assert.Equal(t, float64(42), entries[0]["iterations"])
	assert.Contains(t, entries[0]["caller"], "logging/logger_test.go")
}

func TestLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf).WithFormat(ConsoleFormat).WithFields(map[string]interface{}{"b": 2, "a": 1})

	logger.Warn("slow fit")

	line := buf.String()
	assert.Contains(t, line, "WARN  slow fit a=1 b=2 caller=")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestWithFieldsDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := New(DebugLevel, &buf)
	_ = base.WithField("job", "fit_1")

	base.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0], "job")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)

	assert.Same(t, logger, logger.WithError(nil))
	logger.WithError(assert.AnError).Error("failed")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, assert.AnError.Error(), entries[0]["error"])
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "warn", Format: "console", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, logger.Level())
	assert.Equal(t, ConsoleFormat, logger.format)

	logger, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())
	assert.Equal(t, JSONFormat, logger.format)
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctxLogger := &CtxLogger{New(DebugLevel, &buf)}
	ctx := ctxLogger.WithContext(context.Background())

	assert.Same(t, ctxLogger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(InfoLevel, &buf)).Named("gradient_descent")

	zl.Debug("hidden")
	zl.Info("Gradient descent progress",
		zap.Int("iteration", 1000),
		zap.Float64("cost", 0.125),
		zap.Float64s("parameters", []float64{1.5, 0.25}),
		zap.Bool("converged", false),
		zap.Error(assert.AnError),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "Gradient descent progress", e["message"])
	assert.Equal(t, "gradient_descent", e["logger"])
	assert.Equal(t, float64(1000), e["iteration"])
	assert.Equal(t, 0.125, e["cost"])
	assert.Equal(t, []interface{}{1.5, 0.25}, e["parameters"])
	assert.Equal(t, false, e["converged"])
	assert.Equal(t, assert.AnError.Error(), e["error"])
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)

	handler := middleware.RequestID(Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/x", nil))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "Request started", entries[0]["message"])
	assert.Equal(t, "inside handler", entries[1]["message"])
	assert.Equal(t, "/api/v1/status/x", entries[1]["path"])
	assert.Equal(t, "Request completed", entries[2]["message"])
	assert.Equal(t, float64(http.StatusTeapot), entries[2]["status"])
	assert.NotEmpty(t, entries[2]["request_id"])
}
