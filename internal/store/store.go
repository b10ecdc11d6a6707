// Package store provides the persisted key-value contract used for the
// credential, the cached snapshot, and alert dedup state. Values for
// secret keys are sealed at rest; everything else is stored as-is.
package store

import (
	"fmt"

	"github.com/j-veylop/claude-usage-watch/internal/db"
)

// Well-known keys.
const (
	KeyCredential         = "credential"
	KeyCredentialCaptured = "credential.captured_at"
	KeyCachedSnapshot     = "snapshot.cached"
	KeySnapshotFetchedAt  = "snapshot.fetched_at"
	KeyAlertState         = "alerts.state"
)

// Store is the generic get/set contract consumed by the services.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	SetSecret(key string, value []byte) error
	Delete(key string) error
}

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = db.ErrKeyNotFound

// SQLiteStore persists values in the kv_store table, sealing secrets
// with the machine-local key.
type SQLiteStore struct {
	database *db.DB
	box      *secretBox
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the sealing key at keyPath
// and returns a store backed by the given database.
func NewSQLiteStore(database *db.DB, keyPath string) (*SQLiteStore, error) {
	box, err := newSecretBox(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sealing key: %w", err)
	}
	return &SQLiteStore{database: database, box: box}, nil
}

// Get returns the value for key, unsealing it if it was stored sealed.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	value, sealed, err := s.database.GetValue(key)
	if err != nil {
		return nil, err
	}
	if !sealed {
		return value, nil
	}
	plain, err := s.box.open(value)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal %q: %w", key, err)
	}
	return plain, nil
}

// Set stores a plaintext value.
func (s *SQLiteStore) Set(key string, value []byte) error {
	return s.database.SetValue(key, value, false)
}

// SetSecret seals the value before storing it.
func (s *SQLiteStore) SetSecret(key string, value []byte) error {
	sealed, err := s.box.seal(value)
	if err != nil {
		return fmt.Errorf("failed to seal %q: %w", key, err)
	}
	return s.database.SetValue(key, sealed, true)
}

// Delete removes the key. Missing keys are not an error.
func (s *SQLiteStore) Delete(key string) error {
	return s.database.DeleteValue(key)
}
