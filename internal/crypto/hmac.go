package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Webhook signature headers.
const (
	SignatureHeader = "X-Nftmarket-Signature"
	TimestampHeader = "X-Nftmarket-Timestamp"
)

// signaturePrefix tags the digest algorithm in the header value.
const signaturePrefix = "sha256="

// SignPayload returns "sha256=<hex>" where the digest is
// HMAC-SHA256(secret, timestamp + "." + body).
func SignPayload(secret []byte, unixTS int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(unixTS, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// WebhookHeaders returns the signature headers for body at the current time.
func WebhookHeaders(secret []byte, body []byte) map[string]string {
	return WebhookHeadersAt(secret, body, time.Now().Unix())
}

// WebhookHeadersAt is WebhookHeaders with a caller-supplied timestamp.
func WebhookHeadersAt(secret []byte, body []byte, unixTS int64) map[string]string {
	return map[string]string{
		TimestampHeader: strconv.FormatInt(unixTS, 10),
		SignatureHeader: SignPayload(secret, unixTS, body),
	}
}

// VerifyPayload checks a signature produced by SignPayload in constant time.
func VerifyPayload(secret []byte, unixTS int64, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	want := SignPayload(secret, unixTS, body)
	return hmac.Equal([]byte(want), []byte(signature))
}
