package verification

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeLength is the number of characters in a verification code.
const CodeLength = 6

// codeAlphabet is the fixed alphabet codes are drawn from. Codes are
// case-sensitive, so upper and lower case letters are distinct symbols.
const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenerateCode returns a fresh verification code drawn uniformly from the
// alphanumeric alphabet using a cryptographically secure random source.
// Codes are scoped to a single session and never reused.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))

	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate verification code: %w", err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
