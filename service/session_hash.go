package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// DeriveSessionKey derives the refresh fingerprint key from the JWT secret
func DeriveSessionKey(jwtSecret string) []byte {
	mac := hmac.New(sha256.New, []byte(jwtSecret))
	mac.Write([]byte("sigauth/session-fingerprint"))
	return mac.Sum(nil)
}

// fingerprint is hex(HMAC-SHA256(key, token)); raw refresh tokens are never stored
func fingerprint(key []byte, token string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
