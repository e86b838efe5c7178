package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns the hex SHA-256 of the input
func HashString(input string) string {
	h := sha256.New()
	h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// PhoneHash is the short identifier used in logs instead of a raw phone number
func PhoneHash(phone string) string {
	if phone == "" {
		return ""
	}
	return HashString(phone)[:12]
}

// MaskPhone hides a phone number in request dumps
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	return "***-***-****"
}
