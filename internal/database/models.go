package database

import (
	"errors"
)

// ErrNotFound is returned when a configuration key is not stored
var ErrNotFound = errors.New("not found")

// Keys of the device_config table
const (
	KeyDeviceID    = "device_id"
	KeySecretToken = "secret_token"
	KeyDigest      = "digest"
	KeyVersionInfo = "version_info"
	KeyLastCheckin = "last_checkin_ms"
	KeyClientID    = "client_id"
)

// credentialKeys are the keys written by a credential save
var credentialKeys = []string{
	KeyDeviceID,
	KeySecretToken,
	KeyDigest,
	KeyVersionInfo,
	KeyLastCheckin,
}
