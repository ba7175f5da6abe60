package logging

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStructuredError(t *testing.T) {
	err := errors.New("test error")
	context := ErrorContext{
		Category:    ErrorCategoryStorage,
		Severity:    ErrorSeverityCritical,
		Component:   "database",
		Operation:   "save_credential",
		Recoverable: false,
	}

	structuredErr := NewStructuredError(err, context)

	assert.NotNil(t, structuredErr)
	assert.Equal(t, err, structuredErr.Err)
	assert.Equal(t, context, structuredErr.Context)
	assert.False(t, structuredErr.Timestamp.IsZero())
	assert.NotEmpty(t, structuredErr.Stack) // critical errors carry a stack trace

	context.Severity = ErrorSeverityHigh
	assert.Empty(t, NewStructuredError(err, context).Stack)
}

func TestStructuredErrorInterface(t *testing.T) {
	originalErr := errors.New("original error")
	structuredErr := NewStructuredError(originalErr, ErrorContext{
		Category:  ErrorCategoryNetwork,
		Severity:  ErrorSeverityMedium,
		Component: "client",
	})

	assert.Equal(t, "original error", structuredErr.Error())
	assert.Equal(t, originalErr, structuredErr.Unwrap())
	assert.True(t, errors.Is(structuredErr, originalErr))
	assert.Equal(t, "unknown error", (&StructuredError{}).Error())
}

func TestLogStructuredError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	structuredErr := NewStructuredError(errors.New("test error"), ErrorContext{
		Category:    ErrorCategoryStorage,
		Severity:    ErrorSeverityCritical,
		Component:   "database",
		Operation:   "insert",
		DeviceID:    "test-device",
		Recoverable: false,
		RetryCount:  2,
		Metadata: map[string]interface{}{
			"table": "device_config",
		},
	})

	LogStructuredError(logger, structuredErr)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "test error", entry.Message)
	assert.Equal(t, ErrorCategoryStorage, entry.Data["error_category"])
	assert.Equal(t, "test-device", entry.Data["device_id"])
	assert.Equal(t, 2, entry.Data["retry_count"])
	assert.Equal(t, "device_config", entry.Data["meta_table"])
	assert.NotEmpty(t, entry.Data["stack_trace"])

	// nil logger and nil error are ignored
	LogStructuredError(nil, structuredErr)
	LogStructuredError(logger, nil)
	assert.Len(t, hook.AllEntries(), 1)
}

func TestLogNetworkError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	err := errors.New("connection timeout")

	LogNetworkError(logger, err, "checkin", 1, true)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, ErrorCategoryNetwork, hook.LastEntry().Data["error_category"])

	LogNetworkError(logger, err, "checkin", 5, true)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, ErrorSeverityHigh, hook.LastEntry().Data["error_severity"])
}

func TestLogSecurityError(t *testing.T) {
	logger, hook := test.NewNullLogger()

	LogSecurityError(logger, errors.New("HMAC signing failed"), "dev-123", "sign_request")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, ErrorCategorySecurity, entry.Data["error_category"])
	assert.Equal(t, "dev-123", entry.Data["device_id"])
}

func TestLogStorageError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	err := errors.New("database locked")

	LogStorageError(logger, err, "save_credential", true)
	assert.Equal(t, ErrorSeverityHigh, hook.LastEntry().Data["error_severity"])

	LogStorageError(logger, err, "create_table", false)
	assert.Equal(t, ErrorSeverityCritical, hook.LastEntry().Data["error_severity"])
}

func TestLogServiceError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	err := errors.New("service startup failed")

	LogServiceError(logger, err, "api", "start", true)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "api", hook.LastEntry().Data["component"])

	LogServiceError(logger, err, "api", "start", false)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCategory
	}{
		{nil, ErrorCategoryUnknown},
		{errors.New("dial tcp 10.0.0.1:443: connection refused"), ErrorCategoryNetwork},
		{errors.New("HMAC signature mismatch"), ErrorCategorySecurity},
		{errors.New("sqlite: database is locked"), ErrorCategoryStorage},
		{errors.New("failed to parse YAML"), ErrorCategoryConfig},
		{errors.New("something odd"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "%v", tt.err)
	}
}
