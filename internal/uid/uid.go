// Package uid provides unique identifier generation for QuillStore.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New generates a 32-character hex string suitable for use as a unique
// identifier (scratch file names, session IDs, etc.) using crypto/rand.
func New() string {
	return NewN(32)
}

// NewN generates an n-character random hex string. Lock tokens use the
// 8-character form.
func NewN(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		// Fallback: timestamp-based ID. Should never happen with crypto/rand.
		return fmt.Sprintf("%0*x", n, time.Now().UnixNano())[:n]
	}
	return hex.EncodeToString(b)[:n]
}
