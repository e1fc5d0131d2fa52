package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the base64 HMAC-SHA256 of notification URL + body.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

// Verify reports whether signatureHeader is the HMAC-SHA256 of
// notificationURL+rawBody under secret. Square signs the URL the subscription
// was registered with followed by the exact request body; with an empty URL
// only the body is signed. The comparison is constant time.
func Verify(rawBody []byte, signatureHeader, secret, notificationURL string) bool {
	sig := strings.TrimSpace(signatureHeader)
	key := strings.TrimSpace(secret)
	if sig == "" || key == "" {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}

	return hmac.Equal(Sign(rawBody, key, notificationURL), decoded)
}

// Sign computes the raw signature bytes; used by Verify and by tests and tools
// that emit signed deliveries.
func Sign(rawBody []byte, secret, notificationURL string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(rawBody)
	return mac.Sum(nil)
}

// SignBase64 returns Sign encoded for the signature header
func SignBase64(rawBody []byte, secret, notificationURL string) string {
	return base64.StdEncoding.EncodeToString(Sign(rawBody, secret, notificationURL))
}
