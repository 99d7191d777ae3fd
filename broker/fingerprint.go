package broker

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short, stable identifier for a session ID that is
// safe to write to logs. The session ID itself is a bearer token.
func Fingerprint(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:6])
}
