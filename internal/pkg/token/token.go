// Package token generates the opaque random identifiers used for email ids,
// confirmation keys and workshop routing secrets.
package token

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	// IDBytes is the entropy of email ids and confirmation keys (256 bits).
	IDBytes = 32
	// SecretBytes is the entropy of workshop routing secrets (128 bits).
	SecretBytes = 16
)

// Source produces a fresh token on every call.
type Source func() string

// New returns a lower-case hex token built from n bytes of crypto/rand.
func New(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// EmailID returns a new email id.
func EmailID() string { return New(IDBytes) }

// ConfirmationKey returns a new signup confirmation key.
func ConfirmationKey() string { return New(IDBytes) }

// Secret returns a new workshop routing secret. Secrets are embedded in
// email local parts, so hex keeps them case-insensitive and address-safe.
func Secret() string { return New(SecretBytes) }
