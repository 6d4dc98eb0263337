package persist

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SaveSnapshot replaces the stored snapshot with docs, one row per top-level
// document, each encoded with msgpack.
func (s *Store) SaveSnapshot(docs map[string]any, at time.Time) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("persist: start snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("persist: clear snapshot: %w", err)
	}
	for key, value := range docs {
		var data []byte
		data, err = msgpack.Marshal(value)
		if err != nil {
			return fmt.Errorf("persist: encode %s: %w", key, err)
		}
		if _, err = tx.Exec(`INSERT INTO snapshots (key, data, updated_at) VALUES (?, ?, ?)`, key, data, at.UnixMilli()); err != nil {
			return fmt.Errorf("persist: write %s: %w", key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("persist: commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns every stored top-level document.
func (s *Store) LoadSnapshot() (map[string]any, error) {
	rows, err := s.db.Query(`SELECT key, data FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("persist: read snapshot: %w", err)
	}
	defer rows.Close()

	docs := map[string]any{}
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("persist: scan snapshot: %w", err)
		}
		var value any
		if err := msgpack.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("persist: decode %s: %w", key, err)
		}
		docs[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: snapshot rows: %w", err)
	}
	return docs, nil
}
