package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Sign returns a v1 HMAC-SHA256 signature of "<timestamp>.<payload>".
func Sign(secret string, payload []byte) (signature string, timestamp int64) {
	timestamp = time.Now().Unix()
	return signAt(secret, payload, timestamp), timestamp
}

func signAt(secret string, payload []byte, timestamp int64) string {
	toSign := fmt.Sprintf("%d.%s", timestamp, string(payload))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))
	return fmt.Sprintf("v1=%s", hex.EncodeToString(mac.Sum(nil)))
}

func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	expected := signAt(secret, payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyFresh is Verify plus a bound on clock skew between signer and verifier.
func VerifyFresh(secret string, payload []byte, timestamp int64, signature string, maxSkew time.Duration) bool {
	skew := time.Since(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return false
	}
	return Verify(secret, payload, timestamp, signature)
}
