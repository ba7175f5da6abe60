package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"device-checkin/internal/checkin"
)

// Header names carried by signed requests
const (
	HeaderDeviceID  = "X-Device-ID"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// MaxClockSkew is how far a signed timestamp may drift from the verifier's clock
const MaxClockSkew = 5 * time.Minute

// HMACAuthenticator signs requests with the secret token of a device credential
type HMACAuthenticator struct {
	deviceID    string
	secretToken string
}

// NewHMACAuthenticator creates a new HMAC authenticator for the given device
func NewHMACAuthenticator(deviceID, secretToken string) *HMACAuthenticator {
	return &HMACAuthenticator{
		deviceID:    deviceID,
		secretToken: secretToken,
	}
}

// ForCredential returns an authenticator for cred, or nil if cred is not valid
func ForCredential(cred checkin.Credential) *HMACAuthenticator {
	if !cred.Valid() {
		return nil
	}
	return NewHMACAuthenticator(cred.DeviceID, cred.SecretToken)
}

// SignRequest generates the HMAC signature for a request.
// Signature is HMAC-SHA256(body + timestamp + deviceId) keyed by the secret token.
func (h *HMACAuthenticator) SignRequest(body []byte, timestamp int64) (string, error) {
	if h.secretToken == "" {
		return "", fmt.Errorf("secret token not set")
	}

	mac := hmac.New(sha256.New, []byte(h.secretToken))
	mac.Write(body)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(h.deviceID))

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignedHeaders returns the authentication headers for body at time now
func (h *HMACAuthenticator) SignedHeaders(body []byte, now time.Time) (map[string]string, error) {
	timestamp := now.Unix()
	signature, err := h.SignRequest(body, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	return map[string]string{
		HeaderDeviceID:  h.deviceID,
		HeaderSignature: signature,
		HeaderTimestamp: strconv.FormatInt(timestamp, 10),
	}, nil
}

// ValidateSignature validates an HMAC signature with clock skew tolerance
func (h *HMACAuthenticator) ValidateSignature(body []byte, timestamp int64, signature string, now time.Time) error {
	if h.secretToken == "" {
		return fmt.Errorf("secret token not set")
	}

	skew := now.Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return fmt.Errorf("timestamp outside acceptable range")
	}

	expected, err := h.SignRequest(body, timestamp)
	if err != nil {
		return fmt.Errorf("failed to generate expected signature: %w", err)
	}

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("signature validation failed")
	}

	return nil
}

// GetDeviceID returns the device ID
func (h *HMACAuthenticator) GetDeviceID() string {
	return h.deviceID
}
