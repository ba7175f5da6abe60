package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// sensitiveKeys are configuration keys that should be encrypted
var sensitiveKeys = map[string]bool{
	KeySecretToken: true,
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SetConfig stores a configuration value, encrypting it if it's sensitive
func (db *DB) SetConfig(ctx context.Context, key, value string) error {
	return db.setConfig(ctx, db.conn, key, value)
}

func (db *DB) setConfig(ctx context.Context, ex execer, key, value string) error {
	storedValue := value
	if sensitiveKeys[strings.ToLower(key)] {
		var err error
		storedValue, err = db.Encrypt([]byte(value))
		if err != nil {
			return fmt.Errorf("failed to encrypt config value for key %s: %w", key, err)
		}
	}

	query := `
		INSERT OR REPLACE INTO device_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`

	if _, err := ex.ExecContext(ctx, query, key, storedValue); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}

	return nil
}

// GetConfig retrieves a configuration value, decrypting it if necessary.
// Returns ErrNotFound when the key is not stored.
func (db *DB) GetConfig(ctx context.Context, key string) (string, error) {
	var value string

	query := "SELECT value FROM device_config WHERE key = ?"
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("config %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %s: %w", key, err)
	}

	return db.decode(key, value)
}

// GetAllConfig retrieves all configuration key-value pairs
func (db *DB) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT key, value FROM device_config")
	if err != nil {
		return nil, fmt.Errorf("failed to query all config: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}

		decoded, err := db.decode(key, value)
		if err != nil {
			return nil, err
		}
		config[key] = decoded
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating config rows: %w", err)
	}

	return config, nil
}

// DeleteConfig removes a configuration key
func (db *DB) DeleteConfig(ctx context.Context, key string) error {
	return db.deleteConfig(ctx, db.conn, key)
}

func (db *DB) deleteConfig(ctx context.Context, ex execer, key string) error {
	if _, err := ex.ExecContext(ctx, "DELETE FROM device_config WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete config %s: %w", key, err)
	}
	return nil
}

// decode decrypts value when key is sensitive
func (db *DB) decode(key, value string) (string, error) {
	if !sensitiveKeys[strings.ToLower(key)] {
		return value, nil
	}

	decrypted, err := db.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt config value for key %s: %w", key, err)
	}
	return string(decrypted), nil
}
