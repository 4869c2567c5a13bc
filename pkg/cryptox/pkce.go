package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// PKCEMethodS256 is the only code_challenge_method we issue or accept.
const PKCEMethodS256 = "S256"

// RFC 7636 section 4.1 bounds for a code_verifier.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// ErrInvalidVerifier reports a code_verifier that does not have the RFC 7636 shape.
var ErrInvalidVerifier = errors.New("cryptox: invalid pkce code verifier")

// PKCE holds a verifier/challenge pair.
// The verifier stays with whoever performs the code exchange; the challenge is
// sent with the authorization request.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE generates a fresh verifier with 256 bits of entropy and its S256 challenge.
func NewPKCE() (*PKCE, error) {
	verifier, err := GenerateToken(TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	return &PKCE{
		Verifier:  verifier,
		Challenge: ComputeChallenge(verifier),
		Method:    PKCEMethodS256,
	}, nil
}

// ComputeChallenge returns BASE64URL(SHA256(verifier)) without padding, as
// defined for the S256 method in RFC 7636 section 4.2.
func ComputeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyChallenge reports whether verifier hashes to expectedChallenge.
// An empty verifier or challenge never matches.
func VerifyChallenge(verifier, expectedChallenge string) bool {
	if verifier == "" || expectedChallenge == "" {
		return false
	}
	computed := ComputeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedChallenge)) == 1
}

// ValidateVerifier checks the length and alphabet of a code_verifier:
// 43-128 characters from [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~".
func ValidateVerifier(verifier string) error {
	if n := len(verifier); n < minVerifierLength || n > maxVerifierLength {
		return fmt.Errorf("%w: length %d", ErrInvalidVerifier, n)
	}
	for i := range len(verifier) {
		if !isUnreserved(verifier[i]) {
			return fmt.Errorf("%w: character at %d", ErrInvalidVerifier, i)
		}
	}
	return nil
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
