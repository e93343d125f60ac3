// Package storage is the key-value persistence layer over the local
// database. The mutation queue blob, the core data version marker, and
// cached reference tables all live here.
package storage

import (
	"database/sql"
	"fmt"
)

// Well-known keys. The mutation queue key lives in the queue package.
const (
	KeyCoreDataVersion = "core_data_version"
	KeyUnitsCache      = "units_cache"
)

type KV struct {
	db *sql.DB
}

func NewKV(db *sql.DB) *KV {
	return &KV{db: db}
}

// Get returns the value for key. The second return is false when the key
// is absent.
func (s *KV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM local_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *KV) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO local_kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM local_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
