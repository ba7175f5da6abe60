package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"device-checkin/internal/checkin"
)

// CredentialStore persists the device credential in the device_config table
type CredentialStore struct {
	db *DB
}

var _ checkin.Store = (*CredentialStore)(nil)

// NewCredentialStore creates a credential store backed by db
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Save writes every credential field in one transaction
func (s *CredentialStore) Save(ctx context.Context, cred checkin.Credential) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	values := map[string]string{
		KeyDeviceID:    cred.DeviceID,
		KeySecretToken: cred.SecretToken,
		KeyDigest:      cred.Digest,
		KeyVersionInfo: cred.VersionInfo,
		KeyLastCheckin: strconv.FormatInt(cred.LastCheckinTimeMillis, 10),
	}
	for _, key := range credentialKeys {
		if err := s.db.setConfig(ctx, tx, key, values[key]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential: %w", err)
	}

	return nil
}

// Load returns the stored credential, or an empty credential when none is stored
func (s *CredentialStore) Load(ctx context.Context) (checkin.Credential, error) {
	all, err := s.db.GetAllConfig(ctx)
	if err != nil {
		return checkin.Credential{}, fmt.Errorf("failed to load credential: %w", err)
	}

	if all[KeyDeviceID] == "" {
		return checkin.Credential{}, nil
	}

	cred := checkin.Credential{
		DeviceID:    all[KeyDeviceID],
		SecretToken: all[KeySecretToken],
		Digest:      all[KeyDigest],
		VersionInfo: all[KeyVersionInfo],
	}
	if raw := all[KeyLastCheckin]; raw != "" {
		cred.LastCheckinTimeMillis, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return checkin.Credential{}, fmt.Errorf("invalid stored %s %q: %w", KeyLastCheckin, raw, err)
		}
	}

	return cred, nil
}

// Delete removes the stored credential. The client ID is kept.
func (s *CredentialStore) Delete(ctx context.Context) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range credentialKeys {
		if err := s.db.deleteConfig(ctx, tx, key); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential removal: %w", err)
	}

	return nil
}

// ClientID returns the persisted client ID, generating one on first use
func (s *CredentialStore) ClientID(ctx context.Context) (string, error) {
	id, err := s.db.GetConfig(ctx, KeyClientID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	id = uuid.NewString()
	if err := s.db.SetConfig(ctx, KeyClientID, id); err != nil {
		return "", err
	}
	return id, nil
}
