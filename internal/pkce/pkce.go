// Package pkce generates Proof Key for Code Exchange parameters (RFC 7636).
//
// The verifier is drawn uniformly from the 62 character alphanumeric alphabet and the challenge is
// BASE64URL-NOPAD(SHA256(ASCII(verifier))), which is what the S256 method expects.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

const (
	// MethodS256 is the only challenge method this package produces.
	MethodS256 = "S256"

	MinLength     = 43
	MaxLength     = 128
	DefaultLength = 128

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrInvalidLength is returned when a verifier length falls outside [MinLength, MaxLength].
var ErrInvalidLength = fmt.Errorf("verifier length must be between %d and %d", MinLength, MaxLength)

// Params holds a verifier with its derived challenge.
type Params struct {
	Verifier  string
	Challenge string
	Method    string
}

var defaultRandom io.Reader = rand.Reader

// random is swapped in tests to exercise read failures.
var random = defaultRandom

// New generates a verifier of the given length and derives its S256 challenge.
func New(length int) (*Params, error) {
	verifier, err := GenerateVerifier(length)
	if err != nil {
		return nil, err
	}

	return &Params{
		Verifier:  verifier,
		Challenge: DeriveChallenge(verifier),
		Method:    MethodS256,
	}, nil
}

// GenerateVerifier returns a string of length characters, each sampled independently from [A-Za-z0-9].
func GenerateVerifier(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", fmt.Errorf("%w, got %d", ErrInvalidLength, length)
	}

	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(random, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		b[i] = alphabet[n.Int64()]
	}

	return string(b), nil
}

// DeriveChallenge computes the S256 code challenge for verifier.
func DeriveChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
