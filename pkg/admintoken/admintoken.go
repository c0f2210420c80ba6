// Package admintoken derives the bearer token admin HTTP routes compare
// against Authorization headers, from a configured passphrase. There is
// no user database here — a single passphrase gates the whole admin
// surface.
package admintoken

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterationCount = 4096
	keyLength      = 32
)

// fixedSalt is constant rather than random: the derived token must be
// reproducible across process restarts from the passphrase alone, with
// no persisted salt to manage. The passphrase itself is the secret.
var fixedSalt = []byte("slotkv-admin-token-v1")

// Derive returns the hex-encoded bearer token for passphrase. An empty
// passphrase disables the admin surface entirely — callers must check
// for that before calling Derive.
func Derive(passphrase string) string {
	key := pbkdf2.Key([]byte(passphrase), fixedSalt, iterationCount, keyLength, sha256.New)
	return hex.EncodeToString(key)
}

// Verify reports whether candidate matches the token derived from
// passphrase, using a constant-time comparison so response timing
// cannot leak the token byte-by-byte.
func Verify(passphrase, candidate string) bool {
	want := Derive(passphrase)
	return subtle.ConstantTimeCompare([]byte(want), []byte(candidate)) == 1
}
