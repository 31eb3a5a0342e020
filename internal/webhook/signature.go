package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Ekyc-Signature"
	TimestampHeader = "X-Ekyc-Timestamp"
	EventHeader     = "X-Ekyc-Event"
)

// Sign computes the signature over "<unix timestamp>.<payload>".
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret string, timestamp int64, payload []byte, signature string) bool {
	expectedSignature := Sign(secret, timestamp, payload)
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// VerifyFresh rejects signatures whose timestamp is further than tolerance
// from now, in addition to the HMAC check.
func VerifyFresh(secret string, timestamp int64, payload []byte, signature string, now time.Time, tolerance time.Duration) bool {
	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return false
	}
	return Verify(secret, timestamp, payload, signature)
}
