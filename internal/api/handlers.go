package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"device-checkin/internal/checkin"
)

// DefaultWaitTimeout bounds how long POST /checkin?wait=true blocks
const DefaultWaitTimeout = 60 * time.Second

// CheckinService is the part of the orchestrator exposed over HTTP
type CheckinService interface {
	Status() checkin.Status
	EnsureCheckin(forceImmediate bool)
	FetchCredential(handler checkin.Handler)
	Reset()
}

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	logger      *logrus.Logger
	service     CheckinService
	version     string
	startTime   time.Time
	waitTimeout time.Duration
}

// NewHandlers creates a new handlers instance
func NewHandlers(logger *logrus.Logger, service CheckinService, version string) *Handlers {
	return &Handlers{
		logger:      logger,
		service:     service,
		version:     version,
		startTime:   time.Now(),
		waitTimeout: DefaultWaitTimeout,
	}
}

// HealthCheck handles GET /api/v1/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status()

	response := HealthCheckResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		DeviceID:  status.DeviceID,
		Uptime:    time.Since(h.startTime),
	}
	if !status.Valid {
		response.Status = "degraded"
	}

	h.writeJSONResponse(w, response, http.StatusOK)
}

// CheckinStatus handles GET /api/v1/checkin/status
func (h *Handlers) CheckinStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, CheckinStatusResponse{
		Status:    h.service.Status(),
		Timestamp: time.Now().UTC(),
	}, http.StatusOK)
}

// TriggerCheckin handles POST /api/v1/checkin.
// With wait=true it joins or starts an attempt and replies with its outcome,
// otherwise it calls EnsureCheckin and replies immediately.
func (h *Handlers) TriggerCheckin(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	immediate, err := parseBoolParam(r, "immediate")
	if err != nil {
		h.writeErrorResponse(w, r, ErrorCodeInvalidParameter, err.Error(), requestID)
		return
	}
	wait, err := parseBoolParam(r, "wait")
	if err != nil {
		h.writeErrorResponse(w, r, ErrorCodeInvalidParameter, err.Error(), requestID)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"immediate":  immediate,
		"wait":       wait,
		"request_id": requestID,
	}).Info("Manual checkin requested")

	if !wait {
		h.service.EnsureCheckin(immediate)
		status := h.service.Status()
		h.writeJSONResponse(w, TriggerCheckinResponse{
			Accepted:  true,
			Message:   triggerMessage(status),
			DeviceID:  status.DeviceID,
			Timestamp: time.Now().UTC(),
			RequestID: requestID,
		}, http.StatusAccepted)
		return
	}

	type outcome struct {
		cred *checkin.Credential
		err  error
	}
	done := make(chan outcome, 1)
	h.service.FetchCredential(func(cred *checkin.Credential, err error) {
		done <- outcome{cred: cred, err: err}
	})

	timer := time.NewTimer(h.waitTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			code := ErrorCodeInternalError
			switch {
			case errors.Is(res.err, checkin.ErrTransport):
				code = ErrorCodeCheckinFailed
			case errors.Is(res.err, checkin.ErrPersistence):
				code = ErrorCodePersistenceFailed
			}
			h.writeErrorResponse(w, r, code, res.err.Error(), requestID)
			return
		}
		h.writeJSONResponse(w, TriggerCheckinResponse{
			Accepted:              true,
			Message:               "checkin completed",
			DeviceID:              res.cred.DeviceID,
			LastCheckinTimeMillis: res.cred.LastCheckinTimeMillis,
			Timestamp:             time.Now().UTC(),
			RequestID:             requestID,
		}, http.StatusOK)
	case <-timer.C:
		h.writeErrorResponse(w, r, ErrorCodeTimeout, "checkin still in flight", requestID)
	case <-r.Context().Done():
		h.logger.WithField("request_id", requestID).Debug("Client went away while waiting for checkin")
	}
}

// ResetCheckin handles POST /api/v1/checkin/reset. It clears the retry
// bookkeeping so the refresher resumes after exhausting its attempts.
func (h *Handlers) ResetCheckin(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	before := h.service.Status()
	h.service.Reset()
	after := h.service.Status()

	h.logger.WithFields(logrus.Fields{
		"previous_failures":    before.ConsecutiveFailures,
		"previous_retry_count": before.RetryCount,
		"request_id":           requestID,
	}).Info("Checkin retry state reset via API")

	h.writeJSONResponse(w, ResetCheckinResponse{
		Reset:               true,
		PreviousFailures:    before.ConsecutiveFailures,
		RetryCount:          after.RetryCount,
		ConsecutiveFailures: after.ConsecutiveFailures,
		InFlight:            after.InFlight,
		Timestamp:           time.Now().UTC(),
		RequestID:           requestID,
	}, http.StatusOK)
}

func triggerMessage(status checkin.Status) string {
	switch {
	case status.InFlight:
		return "checkin in flight"
	case status.Valid:
		return "credential already valid"
	default:
		return "checkin not started"
	}
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeErrorResponse writes a standardized JSON error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, code ErrorCode, message string, requestID string) {
	errorResponse := NewErrorResponse(code, message, r, requestID)

	h.logger.WithFields(logrus.Fields{
		"error_code":  code,
		"message":     message,
		"status_code": errorResponse.Status,
		"path":        errorResponse.Path,
		"method":      errorResponse.Method,
		"request_id":  requestID,
		"client_ip":   getClientIP(r),
	}).Error("API error response")

	h.writeJSONResponse(w, errorResponse, errorResponse.Status)
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("invalid value for " + name + ": " + raw)
	}
	return v, nil
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}

	return r.RemoteAddr
}
