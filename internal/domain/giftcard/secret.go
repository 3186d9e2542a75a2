package giftcard

import (
	"crypto/rand"
	"math/big"
)

// Characters that cannot be confused with each other when read aloud or
// typed from a printed card.
const secretAlphabet = "ABCDEFGHKLMNPQRSTUVWXYZ23456789"

const (
	DefaultSecretLength = 20
	minSecretLength     = 6
)

// GenerateSecret returns a random card secret of the given length.
func GenerateSecret(length int) (string, error) {
	if length < minSecretLength {
		length = DefaultSecretLength
	}
	max := big.NewInt(int64(len(secretAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = secretAlphabet[n.Int64()]
	}
	return string(b), nil
}
