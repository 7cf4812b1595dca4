// Package security implements the HMAC request-signing scheme shared by the
// Agent RPC Client and Server (§6.2).
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Sign computes the lowercase hex HMAC-SHA256 over ASCII(ts) || '.' || body,
// keyed with secret. ts is the decimal-seconds-since-epoch string sent in
// the x-ts header.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the correct signature for body at time ts,
// and ts falls within maxSkew of now. Verification is performed against the
// raw received body bytes, never a re-serialized copy.
func Verify(secret string, body []byte, ts, sig string, maxSkew time.Duration) bool {
	t, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	skew := now - t
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > maxSkew {
		return false
	}
	expected := Sign(secret, body, ts)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// TimestampNow returns the current time formatted as the x-ts header value.
func TimestampNow() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
