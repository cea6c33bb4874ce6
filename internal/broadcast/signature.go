package broadcast

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the lower-case hex HMAC-SHA256 digest of message. The
// output is compared against digests produced by other runtimes, so the
// canonical hex encoding matters.
func Sign(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureValid reports whether signature is the HMAC-SHA256 hex digest
// of message under secret. Comparison is constant-time.
func SignatureValid(secret, message []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, message)), []byte(signature))
}
