// Package hexid generates short random hex identifiers.
package hexid

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// pendingPrefix marks a message id that belongs to an in-flight streaming
// placeholder and will be replaced by a permanent id at finalization.
const pendingPrefix = "pending-"

// New returns an 8-character lowercase hex string (4 random bytes).
func New() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("hexid: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// Pending returns a fresh placeholder message id.
func Pending() string {
	return pendingPrefix + New()
}

// IsPending reports whether id is a placeholder message id.
func IsPending(id string) bool {
	return strings.HasPrefix(id, pendingPrefix)
}
