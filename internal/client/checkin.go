package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"device-checkin/internal/auth"
	"device-checkin/internal/checkin"
)

// CheckinPath is the registration service endpoint for device checkins
const CheckinPath = "/api/v1/devices/checkin"

// DefaultUserAgent identifies the agent to the registration service
const DefaultUserAgent = "device-checkin/1.0"

// HTTPClientInterface defines the interface for HTTP client operations
type HTTPClientInterface interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// CheckinRequest is the body sent to the registration service
type CheckinRequest struct {
	ClientID    string `json:"clientId"`
	DeviceID    string `json:"deviceId,omitempty"`
	Digest      string `json:"digest,omitempty"`
	VersionInfo string `json:"versionInfo,omitempty"`
	Locale      string `json:"locale,omitempty"`
	UserAgent   string `json:"userAgent"`
}

// CheckinResponse is the registration service reply
type CheckinResponse struct {
	DeviceID    string `json:"deviceId"`
	SecretToken string `json:"secretToken"`
	Digest      string `json:"digest"`
	VersionInfo string `json:"versionInfo"`
	TimeMs      int64  `json:"timeMs"`
}

// CheckinTransport performs checkins against the registration service over HTTP
type CheckinTransport struct {
	client    HTTPClientInterface
	locale    string
	userAgent string
	logger    *logrus.Logger
	now       func() time.Time
}

// NewCheckinTransport creates a checkin transport on top of an HTTP client
func NewCheckinTransport(client HTTPClientInterface, locale string, logger *logrus.Logger) *CheckinTransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &CheckinTransport{
		client:    client,
		locale:    locale,
		userAgent: DefaultUserAgent,
		logger:    logger,
		now:       time.Now,
	}
}

// PerformCheckin exchanges the existing credential for a fresh one.
// Requests from a device that already holds a valid credential are signed with its secret token.
func (t *CheckinTransport) PerformCheckin(ctx context.Context, existing checkin.Credential, clientID string) (checkin.Credential, error) {
	body := &CheckinRequest{
		ClientID:    clientID,
		DeviceID:    existing.DeviceID,
		Digest:      existing.Digest,
		VersionInfo: existing.VersionInfo,
		Locale:      t.locale,
		UserAgent:   t.userAgent,
	}

	req := &Request{
		Method: http.MethodPost,
		Path:   CheckinPath,
		Body:   body,
	}
	if signer := auth.ForCredential(existing); signer != nil {
		req.Signer = signer
	}

	t.logger.WithFields(logrus.Fields{
		"client_id": clientID,
		"device_id": existing.DeviceID,
		"signed":    req.Signer != nil,
	}).Debug("Sending checkin request")

	resp, err := t.client.Do(ctx, req)
	if err != nil {
		return checkin.Credential{}, fmt.Errorf("checkin request failed: %w", err)
	}

	var checkinResp CheckinResponse
	if err := parseJSONResponse(resp, &checkinResp); err != nil {
		return checkin.Credential{}, fmt.Errorf("failed to parse checkin response: %w", err)
	}

	if checkinResp.DeviceID == "" || checkinResp.SecretToken == "" {
		return checkin.Credential{}, fmt.Errorf("invalid checkin response: missing device id or secret token")
	}

	timeMs := checkinResp.TimeMs
	if timeMs <= 0 {
		timeMs = t.now().UnixMilli()
	}

	t.logger.WithField("device_id", checkinResp.DeviceID).Info("Checkin accepted by registration service")

	return checkin.Credential{
		DeviceID:              checkinResp.DeviceID,
		SecretToken:           checkinResp.SecretToken,
		Digest:                checkinResp.Digest,
		VersionInfo:           checkinResp.VersionInfo,
		LastCheckinTimeMillis: timeMs,
	}, nil
}
