package logging

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory represents different categories of errors for classification
type ErrorCategory string

const (
	// Network-related errors
	ErrorCategoryNetwork ErrorCategory = "network"
	// Authentication/Security errors
	ErrorCategorySecurity ErrorCategory = "security"
	// Database/Storage errors
	ErrorCategoryStorage ErrorCategory = "storage"
	// Configuration errors
	ErrorCategoryConfig ErrorCategory = "config"
	// Service/Application errors
	ErrorCategoryService ErrorCategory = "service"
	// Unknown/Uncategorized errors
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityCritical ErrorSeverity = "critical"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityInfo     ErrorSeverity = "info"
)

// ErrorContext provides additional context for error logging
type ErrorContext struct {
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	DeviceID    string                 `json:"device_id,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	RetryCount  int                    `json:"retry_count,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// StructuredError represents a structured error with context
type StructuredError struct {
	Err       error        `json:"error"`
	Context   ErrorContext `json:"context"`
	Timestamp time.Time    `json:"timestamp"`
	Stack     string       `json:"stack,omitempty"`
}

// Error implements the error interface
func (se *StructuredError) Error() string {
	if se.Err != nil {
		return se.Err.Error()
	}
	return "unknown error"
}

// Unwrap returns the underlying error
func (se *StructuredError) Unwrap() error {
	return se.Err
}

// NewStructuredError creates a new structured error with context
func NewStructuredError(err error, context ErrorContext) *StructuredError {
	structuredErr := &StructuredError{
		Err:       err,
		Context:   context,
		Timestamp: time.Now(),
	}

	// Capture stack trace for critical errors only
	if context.Severity == ErrorSeverityCritical {
		structuredErr.Stack = captureStackTrace()
	}

	return structuredErr
}

// LogStructuredError logs a structured error with appropriate level and context
func LogStructuredError(logger logrus.FieldLogger, structuredErr *StructuredError) {
	if logger == nil || structuredErr == nil {
		return
	}

	entry := logger.WithFields(logrus.Fields{
		"error_category": structuredErr.Context.Category,
		"error_severity": structuredErr.Context.Severity,
		"component":      structuredErr.Context.Component,
		"operation":      structuredErr.Context.Operation,
		"recoverable":    structuredErr.Context.Recoverable,
	})

	if structuredErr.Context.DeviceID != "" {
		entry = entry.WithField("device_id", structuredErr.Context.DeviceID)
	}
	if structuredErr.Context.RetryCount > 0 {
		entry = entry.WithField("retry_count", structuredErr.Context.RetryCount)
	}
	for key, value := range structuredErr.Context.Metadata {
		entry = entry.WithField(fmt.Sprintf("meta_%s", key), value)
	}
	if structuredErr.Stack != "" {
		entry = entry.WithField("stack_trace", structuredErr.Stack)
	}

	switch structuredErr.Context.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		entry.Error(structuredErr.Error())
	case ErrorSeverityMedium, ErrorSeverityLow:
		entry.Warn(structuredErr.Error())
	case ErrorSeverityInfo:
		entry.Info(structuredErr.Error())
	default:
		entry.Error(structuredErr.Error())
	}
}

// LogNetworkError logs network-related errors
func LogNetworkError(logger logrus.FieldLogger, err error, operation string, retryCount int, recoverable bool) {
	severity := ErrorSeverityMedium
	if retryCount > 3 {
		severity = ErrorSeverityHigh
	}

	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategoryNetwork,
		Severity:    severity,
		Component:   "client",
		Operation:   operation,
		Recoverable: recoverable,
		RetryCount:  retryCount,
	}))
}

// LogSecurityError logs security-related errors
func LogSecurityError(logger logrus.FieldLogger, err error, deviceID, operation string) {
	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategorySecurity,
		Severity:    ErrorSeverityCritical,
		Component:   "auth",
		Operation:   operation,
		DeviceID:    deviceID,
		Recoverable: false,
	}))
}

// LogStorageError logs database/storage-related errors
func LogStorageError(logger logrus.FieldLogger, err error, operation string, recoverable bool) {
	severity := ErrorSeverityHigh
	if !recoverable {
		severity = ErrorSeverityCritical
	}

	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategoryStorage,
		Severity:    severity,
		Component:   "database",
		Operation:   operation,
		Recoverable: recoverable,
	}))
}

// LogServiceError logs service/application-related errors
func LogServiceError(logger logrus.FieldLogger, err error, serviceName, operation string, recoverable bool) {
	severity := ErrorSeverityMedium
	if !recoverable {
		severity = ErrorSeverityHigh
	}

	LogStructuredError(logger, NewStructuredError(err, ErrorContext{
		Category:    ErrorCategoryService,
		Severity:    severity,
		Component:   serviceName,
		Operation:   operation,
		Recoverable: recoverable,
	}))
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

var classifierKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{ErrorCategoryNetwork, []string{
		"connection refused", "connection reset", "connection timeout",
		"network is unreachable", "no such host", "i/o timeout",
		"dial tcp", "dial udp", "dns", "tls handshake",
	}},
	{ErrorCategorySecurity, []string{
		"authentication", "authorization", "hmac", "signature",
		"unauthorized", "forbidden", "invalid token", "expired",
	}},
	{ErrorCategoryStorage, []string{
		"database", "sqlite", "sql", "table", "constraint",
		"disk", "permission", "no space left", "persist",
	}},
	{ErrorCategoryConfig, []string{
		"config", "configuration", "missing", "parse", "yaml", "setting",
	}},
}

// ClassifyError attempts to classify an error based on its message
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	errMsg := strings.ToLower(err.Error())
	for _, class := range classifierKeywords {
		for _, keyword := range class.keywords {
			if strings.Contains(errMsg, keyword) {
				return class.category
			}
		}
	}

	return ErrorCategoryUnknown
}
