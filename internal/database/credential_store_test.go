package database

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-checkin/internal/checkin"
)

func testCredential() checkin.Credential {
	return checkin.Credential{
		DeviceID:              "dev_123",
		SecretToken:           "secret_abc",
		Digest:                "digest",
		VersionInfo:           "v7",
		LastCheckinTimeMillis: 1700000000123,
	}
}

func TestCredentialStore_LoadEmpty(t *testing.T) {
	store := NewCredentialStore(setupTestDB(t))

	cred, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkin.Credential{}, cred)
	assert.False(t, cred.Valid())
}

func TestCredentialStore_SaveLoad(t *testing.T) {
	db := setupTestDB(t)
	store := NewCredentialStore(db)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))

	cred, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, testCredential(), cred)

	var raw string
	require.NoError(t, db.conn.QueryRow("SELECT value FROM device_config WHERE key = ?", KeySecretToken).Scan(&raw))
	assert.NotEqual(t, "secret_abc", raw)
}

func TestCredentialStore_SaveReplaces(t *testing.T) {
	store := NewCredentialStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))
	replacement := checkin.Credential{DeviceID: "dev_456", SecretToken: "other"}
	require.NoError(t, store.Save(ctx, replacement))

	cred, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement, cred)
}

func TestCredentialStore_SaveCancelled(t *testing.T) {
	store := NewCredentialStore(setupTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Save(ctx, testCredential()))

	cred, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, cred.Valid())
}

func TestCredentialStore_Delete(t *testing.T) {
	store := NewCredentialStore(setupTestDB(t))
	ctx := context.Background()

	clientID, err := store.ClientID(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, testCredential()))

	require.NoError(t, store.Delete(ctx))

	cred, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, cred.Valid())

	again, err := store.ClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, clientID, again)
}

func TestCredentialStore_ClientID(t *testing.T) {
	store := NewCredentialStore(setupTestDB(t))
	ctx := context.Background()

	first, err := store.ClientID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := store.ClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCredentialStore_SurvivesReopen(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "checkin.db")
	ctx := context.Background()

	db, err := NewDB(Config{DatabasePath: path, EncryptionKey: key})
	require.NoError(t, err)
	require.NoError(t, NewCredentialStore(db).Save(ctx, testCredential()))
	require.NoError(t, db.Close())

	db, err = NewDB(Config{DatabasePath: path, EncryptionKey: key})
	require.NoError(t, err)
	defer db.Close()

	cred, err := NewCredentialStore(db).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, testCredential(), cred)
}

func TestCredentialStore_WithOrchestrator(t *testing.T) {
	db := setupTestDB(t)
	store := NewCredentialStore(db)

	transport := checkinTransportFunc(func(ctx context.Context, existing checkin.Credential, clientID string) (checkin.Credential, error) {
		return testCredential(), nil
	})
	o, err := checkin.NewOrchestrator(transport, store, "client")
	require.NoError(t, err)

	cred, err := o.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev_123", cred.DeviceID)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testCredential(), stored)
}

type checkinTransportFunc func(ctx context.Context, existing checkin.Credential, clientID string) (checkin.Credential, error)

func (f checkinTransportFunc) PerformCheckin(ctx context.Context, existing checkin.Credential, clientID string) (checkin.Credential, error) {
	return f(ctx, existing, clientID)
}
