package errors

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/curvefit/internal/logging"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", &Error{Message: "boom"}, "boom"},
		{"with operation", (&Error{Message: "boom"}).WithOperation("Descent.Fit"), "boom: operation=Descent.Fit"},
		{"with component", E(KindConfig, "gradient.New", "model is required").WithComponent("gradient"), "model is required: operation=gradient.New, component=gradient"},
		{"wrapped", Wrap(fmt.Errorf("inner"), "outer"), "outer: inner"},
		{"classified", E(KindInput, "Parse", "line %d: bad sample", 3), "line 3: bad sample: operation=Parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	input := E(KindInput, "op", "empty dataset")

	assert.Equal(t, KindInput, KindOf(input))
	assert.Equal(t, KindInput, KindOf(Wrap(input, "parsing request")))
	assert.Equal(t, KindInput, KindOf(fmt.Errorf("outer: %w", input)))
	assert.Equal(t, KindConfig, KindOf(Wrap(input, "x").WithKind(KindConfig)))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	assert.True(t, IsKind(input, KindInput))
	assert.False(t, IsKind(nil, KindUnknown))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "InputError", KindInput.String())
	assert.Equal(t, "ConfigError", KindConfig.String())
	assert.Equal(t, "NotFound", KindNotFound.String())
	assert.Equal(t, "Unavailable", KindUnavailable.String())
	assert.Equal(t, "InternalError", KindInternal.String())
	assert.Equal(t, "Unknown", Kind(42).String())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "msg"))
	assert.Nil(t, Wrapf(nil, "msg %d", 1))
}

func TestWrapPreservesChain(t *testing.T) {
	err := Wrapf(context.Canceled, "stopped at iteration %d", 10)

	assert.True(t, Is(err, context.Canceled))
	assert.Equal(t, context.Canceled, Unwrap(err))

	var target *Error
	require.True(t, As(fmt.Errorf("outer: %w", err), &target))
	assert.Equal(t, "stopped at iteration 10", target.Message)
	assert.NotEmpty(t, target.Stack)
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/fit", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Recovered from panic", entry["message"])
	assert.Equal(t, "kaboom", entry["error"])
	assert.Equal(t, "/api/v1/fit", entry["path"])
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
		logged bool
	}{
		{"ok", http.StatusOK, "", false},
		{"client error", http.StatusBadRequest, "WARN", true},
		{"server error", http.StatusServiceUnavailable, "ERROR", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logging.New(logging.DebugLevel, &buf)

			handler := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/x", nil))

			assert.Equal(t, tt.status, rr.Code)
			if !tt.logged {
				assert.Zero(t, buf.Len())
				return
			}

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status"])
		})
	}
}
