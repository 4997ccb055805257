package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrSignatureMissing indicates an empty signature header.
	ErrSignatureMissing = errors.New("auth: signature missing")
	// ErrSignatureMismatch indicates the signature does not match the payload.
	ErrSignatureMismatch = errors.New("auth: signature mismatch")
	// ErrSecretMissing indicates the shared secret is not configured.
	ErrSecretMissing = errors.New("auth: hmac secret not configured")
)

// SignBody returns the lowercase hex HMAC-SHA256 of body under secret.
func SignBody(secret string, body []byte) string {
	return hex.EncodeToString(computeHMAC([]byte(secret), body))
}

// VerifyBodySignature checks a hex or base64 encoded HMAC-SHA256 of the raw request body in constant
// time.
func VerifyBodySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return ErrSecretMissing
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}
	provided, err := decodeSignature(signature)
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(provided, computeHMAC([]byte(secret), body)) {
		return ErrSignatureMismatch
	}
	return nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(value)
}

func computeHMAC(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}
