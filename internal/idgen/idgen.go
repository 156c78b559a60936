// Package idgen generates the random identifiers handed out by the trust
// service: "sess_" monitoring session IDs, "evt_" security event IDs, and
// "req_" request IDs.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 hex chars (12 random bytes). Session IDs
// produced here must stay valid against the API's session ID format, so
// the random part is hex only.
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns a random hex string of numBytes bytes.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
