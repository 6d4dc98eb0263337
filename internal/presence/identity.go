// Package presence owns the local player's identity and publishes its
// PlayerState. Every peer writes only its own players/<id> document.
package presence

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/persist"
)

// IdentityStore persists the player id across restarts.
type IdentityStore interface {
	GetIdentity(key string) (string, bool, error)
	PutIdentity(key, value string) error
}

func NewPlayerID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// LoadOrCreateID returns the persisted player id, generating and storing one
// on first use.
func LoadOrCreateID(s IdentityStore) (string, error) {
	id, ok, err := s.GetIdentity(persist.KeyPlayerID)
	if err != nil {
		return "", fmt.Errorf("presence: load player id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = NewPlayerID()
	if err := s.PutIdentity(persist.KeyPlayerID, id); err != nil {
		return "", fmt.Errorf("presence: store player id: %w", err)
	}
	return id, nil
}
