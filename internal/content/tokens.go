package content

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signatureLen = 16

// Tokens signs contact ids for unsubscribe links. A token is
// "<contactID>-<first 16 hex chars of HMAC-SHA256(contactID)>".
type Tokens struct {
	Secret string
}

// Generate returns the unsubscribe token for contactID.
func (t Tokens) Generate(contactID string) string {
	return contactID + "-" + t.sign(contactID)
}

// Verify returns the contact id carried by token when its signature holds.
// Contact ids may themselves contain hyphens, so the signature is taken
// from the last one.
func (t Tokens) Verify(token string) (string, bool) {
	i := strings.LastIndex(token, "-")
	if i <= 0 || i == len(token)-1 {
		return "", false
	}
	contactID, sig := token[:i], token[i+1:]
	if len(sig) != signatureLen {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(t.sign(contactID))) {
		return "", false
	}
	return contactID, true
}

func (t Tokens) sign(data string) string {
	h := hmac.New(sha256.New, []byte(t.Secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:signatureLen]
}
