package envstore

import (
	"crypto/rand"
	"math/big"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateSecret returns a cryptographically random alphanumeric string of
// at least 32 characters, suitable for autoGenerate's composed passwords.
func generateSecret(length int) (string, error) {
	if length < 32 {
		length = 32
	}
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(secretAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = secretAlphabet[n.Int64()]
	}
	return string(buf), nil
}
