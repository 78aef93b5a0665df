package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// apiKeyPrefix is the prefix used for generated internal API keys.
	apiKeyPrefix = "clk_"
	// referralAlphabet omits characters that are easy to misread (0/O, 1/I/L).
	referralAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// ReferralCodeLength is the length of generated referral codes.
	ReferralCodeLength = 8
)

// GenerateAPIKey creates a new random internal API key string.
func GenerateAPIKey() (token string, err error) {
	secret := make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(secret), nil
}

// GenerateRandomString returns a hex-encoded random string of the given length.
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(bytes)[:length], nil
}

// GenerateReferralCode returns a random code drawn from an unambiguous uppercase alphabet.
func GenerateReferralCode() (string, error) {
	raw := make([]byte, ReferralCodeLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	out := make([]byte, ReferralCodeLength)
	for i, b := range raw {
		out[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return string(out), nil
}
