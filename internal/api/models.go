package api

import (
	"net/http"
	"time"

	"device-checkin/internal/checkin"
)

// HealthCheckResponse represents the health check response
type HealthCheckResponse struct {
	Status    string        `json:"status"` // "healthy", "degraded"
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	DeviceID  string        `json:"deviceId,omitempty"`
	Uptime    time.Duration `json:"uptime"`
}

// CheckinStatusResponse reports the orchestrator state. The secret token is never exposed.
type CheckinStatusResponse struct {
	checkin.Status
	Timestamp time.Time `json:"timestamp"`
}

// TriggerCheckinResponse represents the response to a manual checkin trigger
type TriggerCheckinResponse struct {
	Accepted              bool      `json:"accepted"`
	Message               string    `json:"message"`
	DeviceID              string    `json:"deviceId,omitempty"`
	LastCheckinTimeMillis int64     `json:"lastCheckinTimeMs,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
	RequestID             string    `json:"requestId,omitempty"`
}

// ResetCheckinResponse represents the response to a retry state reset
type ResetCheckinResponse struct {
	Reset               bool      `json:"reset"`
	PreviousFailures    int       `json:"previousFailures"`
	RetryCount          int       `json:"retryCount"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	InFlight            bool      `json:"inFlight"`
	Timestamp           time.Time `json:"timestamp"`
	RequestID           string    `json:"requestId,omitempty"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
	Status    int       `json:"status"`
}

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeInvalidParameter   ErrorCode = "INVALID_PARAMETER"
	ErrorCodeTimeout            ErrorCode = "TIMEOUT"
	ErrorCodeCheckinFailed      ErrorCode = "CHECKIN_FAILED"
	ErrorCodePersistenceFailed  ErrorCode = "PERSISTENCE_FAILED"
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// statusForCode maps error codes to HTTP status codes
func statusForCode(code ErrorCode) int {
	switch code {
	case ErrorCodeInvalidParameter:
		return http.StatusBadRequest
	case ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrorCodeCheckinFailed:
		return http.StatusBadGateway
	case ErrorCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse creates an error response for r
func NewErrorResponse(code ErrorCode, message string, r *http.Request, requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     "true",
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Path:      r.URL.Path,
		Method:    r.Method,
		Status:    statusForCode(code),
	}
}
