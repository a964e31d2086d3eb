// services/signature.go
package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Historical Circle webhook deliveries signed the raw body with HMAC-SHA256
// but encoded the signature three different ways over time: raw hex, base64,
// and a comma-separated key=value list (e.g. "t=...,v1=<hex>"). Decoders are
// tried in a fixed order; each is independently testable.
type signatureDecoder struct {
	name   string
	decode func(string) ([][]byte, bool)
}

func decodeHexSignature(s string) ([][]byte, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	return [][]byte{raw}, true
}

func decodeBase64Signature(s string) ([][]byte, bool) {
	trimmed := strings.TrimSpace(s)
	if raw, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(raw) > 0 {
		return [][]byte{raw}, true
	}
	if raw, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil && len(raw) > 0 {
		return [][]byte{raw}, true
	}
	return nil, false
}

// decodeKeyValueSignature handles "k1=v1,k2=v2" headers. Every value is a
// candidate, decoded as hex first and base64 second.
func decodeKeyValueSignature(s string) ([][]byte, bool) {
	if !strings.Contains(s, "=") {
		return nil, false
	}

	var candidates [][]byte
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || kv[1] == "" {
			continue
		}
		if raw, ok := decodeHexSignature(kv[1]); ok {
			candidates = append(candidates, raw...)
			continue
		}
		if raw, ok := decodeBase64Signature(kv[1]); ok {
			candidates = append(candidates, raw...)
		}
	}
	return candidates, len(candidates) > 0
}

var circleSignatureDecoders = []signatureDecoder{
	{name: "hex", decode: decodeHexSignature},
	{name: "base64", decode: decodeBase64Signature},
	{name: "key-value", decode: decodeKeyValueSignature},
}

// CircleWebhookVerifier authenticates inbound payment-provider notifications.
type CircleWebhookVerifier struct {
	secret []byte
}

func NewCircleWebhookVerifier(secret string) *CircleWebhookVerifier {
	return &CircleWebhookVerifier{secret: []byte(secret)}
}

// Verify computes HMAC-SHA256 over the raw body and compares it, in constant
// time, against every candidate the decoding strategies produce.
func (v *CircleWebhookVerifier) Verify(body []byte, signatureHeader string) bool {
	if signatureHeader == "" || len(body) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, decoder := range circleSignatureDecoders {
		candidates, ok := decoder.decode(signatureHeader)
		if !ok {
			continue
		}
		for _, candidate := range candidates {
			if hmac.Equal(candidate, expected) {
				return true
			}
		}
	}
	return false
}

// GitHubWebhookVerifier authenticates code-hosting platform webhooks, which
// always deliver "sha256=<hex>" in X-Hub-Signature-256.
type GitHubWebhookVerifier struct {
	secret []byte
}

func NewGitHubWebhookVerifier(secret string) *GitHubWebhookVerifier {
	return &GitHubWebhookVerifier{secret: []byte(secret)}
}

func (v *GitHubWebhookVerifier) Verify(body []byte, signature256 string) bool {
	if signature256 == "" {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	digest := fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))

	if len(digest) != len(signature256) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest), []byte(signature256)) == 1
}
