package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer computes and checks gateway signatures: hex encoded HMAC-SHA256
// over "orderNumber|paymentId|status" keyed with the shared gateway secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(orderNumber, paymentID string, status Outcome) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(orderNumber + "|" + paymentID + "|" + string(status)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. Malformed hex never verifies.
func (s *Signer) Verify(orderNumber, paymentID string, status Outcome, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(orderNumber, paymentID, status))
	return hmac.Equal(got, want)
}
