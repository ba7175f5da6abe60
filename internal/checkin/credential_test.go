package checkin

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredential_Valid(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"empty", Credential{}, false},
		{"device id only", Credential{DeviceID: "dev_123"}, false},
		{"secret only", Credential{SecretToken: "secret"}, false},
		{"both", Credential{DeviceID: "dev_123", SecretToken: "secret"}, true},
		{"metadata does not matter", Credential{DeviceID: "dev_123", SecretToken: "secret", Digest: ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.Valid())
		})
	}
}

func TestCredential_Stale(t *testing.T) {
	now := time.Unix(1800000000, 0)

	never := Credential{DeviceID: "dev", SecretToken: "secret"}
	assert.True(t, never.Stale(now, time.Hour))
	assert.True(t, never.LastCheckin().IsZero())

	recent := Credential{DeviceID: "dev", SecretToken: "secret", LastCheckinTimeMillis: now.Add(-time.Minute).UnixMilli()}
	assert.False(t, recent.Stale(now, time.Hour))
	assert.True(t, recent.Valid())

	old := Credential{LastCheckinTimeMillis: now.Add(-2 * time.Hour).UnixMilli()}
	assert.True(t, old.Stale(now, time.Hour))
}

func TestError_Kinds(t *testing.T) {
	cause := fmt.Errorf("connection refused")

	transportErr := newTransportError(3, cause)
	assert.True(t, errors.Is(transportErr, ErrTransport))
	assert.False(t, errors.Is(transportErr, ErrPersistence))
	assert.True(t, errors.Is(transportErr, cause))
	assert.Contains(t, transportErr.Error(), "attempt 3")

	persistErr := newPersistenceError(1, cause)
	wrapped := fmt.Errorf("outer: %w", persistErr)
	assert.True(t, errors.Is(wrapped, ErrPersistence))
	assert.Equal(t, ErrorKindPersistence, KindOf(wrapped))

	assert.Equal(t, ErrorKind(""), KindOf(cause))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}
