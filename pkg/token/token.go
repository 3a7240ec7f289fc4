// Package token issues and hashes the bearer credentials that anchor
// recipient access: a public proposal id and one opaque token per
// recipient. Only the sha256 hash of a token is ever persisted or logged.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Token is a recipient access credential in its plaintext form. It exists
// in memory only between issuance and delivery, and inside a request while
// the gate resolves it.
type Token string

// 24 random bytes gives 192 bits of entropy, comfortably past guessable.
const tokenBytes = 24

// NewProposalID returns a public-facing proposal identifier, distinct from
// the internal row id.
func NewProposalID() string { return "prp_" + uuid.NewString() }

// NewRecipientToken draws a fresh token from crypto/rand. Fails only on
// entropy-source exhaustion, which callers should treat as fatal.
func NewRecipientToken() (Token, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Token(base64.RawURLEncoding.EncodeToString(b)), nil
}

// Hash returns the sha256 hex digest of a token, the only representation
// the store keeps and the gate looks up.
func Hash(t Token) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

// HashPrefix is a short reference safe to put in logs.
func HashPrefix(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}

// Equal compares two equal-purpose secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ParseBearer extracts the credential from an Authorization header.
func ParseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if tok == "" {
		return "", false
	}
	return tok, true
}
