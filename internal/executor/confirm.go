package executor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Confirmer issues and verifies approval tokens for gated tools. A token
// binds one tool name to one call ID, so an approval cannot be replayed
// against a different call.
type Confirmer struct {
	secret []byte
}

// NewConfirmer creates a confirmer with a random per-process secret.
func NewConfirmer() (*Confirmer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating confirmation secret: %w", err)
	}
	return &Confirmer{secret: secret}, nil
}

// NewConfirmerWithSecret creates a confirmer with a fixed secret.
func NewConfirmerWithSecret(secret []byte) *Confirmer {
	return &Confirmer{secret: secret}
}

// Token issues the approval token for one tool call.
func (c *Confirmer) Token(tool, callID string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(tool))
	mac.Write([]byte{0})
	mac.Write([]byte(callID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token approves the given tool call. Comparison
// is constant time.
func (c *Confirmer) Verify(tool, callID, token string) bool {
	if token == "" {
		return false
	}
	want, err := hex.DecodeString(c.Token(tool, callID))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
