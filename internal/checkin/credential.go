package checkin

import "time"

// Credential is the result of a checkin: the device identity issued by the
// registration service plus the metadata returned alongside it.
type Credential struct {
	DeviceID              string `json:"deviceId"`
	SecretToken           string `json:"secretToken"`
	Digest                string `json:"digest"`
	VersionInfo           string `json:"versionInfo"`
	LastCheckinTimeMillis int64  `json:"lastCheckinTimeMs"`
}

// Valid returns true if the credential carries both a device ID and a secret token
func (c Credential) Valid() bool {
	return c.DeviceID != "" && c.SecretToken != ""
}

// LastCheckin returns the time of the checkin that produced this credential
func (c Credential) LastCheckin() time.Time {
	if c.LastCheckinTimeMillis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.LastCheckinTimeMillis)
}

// Stale reports whether the last checkin happened more than maxAge before now.
// A credential that was never checked in is always stale.
func (c Credential) Stale(now time.Time, maxAge time.Duration) bool {
	last := c.LastCheckin()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= maxAge
}
