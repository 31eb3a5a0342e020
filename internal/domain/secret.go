package domain

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// Secret kinds. The prefix tells operators which variable a value belongs to.
const (
	SecretAPIKey  = "ek"    // API_KEY_SECRET
	SecretWebhook = "whsec" // WEBHOOK_SECRET
)

const (
	secretLength = 32
	base62Chars  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var secretKinds = map[string]bool{
	SecretAPIKey:  true,
	SecretWebhook: true,
}

// GenerateSecret returns "<kind>_<32 base62 chars>".
func GenerateSecret(kind string) (string, error) {
	if !secretKinds[kind] {
		return "", errors.New("invalid secret kind: must be 'ek' or 'whsec'")
	}

	random, err := generateSecureRandomString(secretLength)
	if err != nil {
		return "", err
	}
	return kind + "_" + random, nil
}

// IsValidSecret reports whether s has the GenerateSecret format.
func IsValidSecret(s string) bool {
	kind, random, ok := strings.Cut(s, "_")
	if !ok || !secretKinds[kind] || len(random) != secretLength {
		return false
	}
	for _, char := range random {
		if !strings.ContainsRune(base62Chars, char) {
			return false
		}
	}
	return true
}

func generateSecureRandomString(length int) (string, error) {
	result := make([]byte, length)
	base62Len := big.NewInt(int64(len(base62Chars)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, base62Len)
		if err != nil {
			return "", err
		}
		result[i] = base62Chars[num.Int64()]
	}

	return string(result), nil
}
