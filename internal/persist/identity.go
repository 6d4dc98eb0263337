package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KeyPlayerID holds the locally generated player id.
const KeyPlayerID = "player_id"

func (s *Store) GetIdentity(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM identity WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("persist: read identity %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) PutIdentity(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO identity (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("persist: write identity %s: %w", key, err)
	}
	return nil
}
