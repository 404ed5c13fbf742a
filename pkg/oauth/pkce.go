package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCE is the transient state of one authorization attempt. It is never
// persisted.
type PKCE struct {
	Verifier  string
	Challenge string
	State     string
	// RedirectPort is the loopback port the callback listener is bound to.
	RedirectPort int
}

// NewPKCE generates a fresh verifier, its S256 challenge and a state nonce.
func NewPKCE() (*PKCE, error) {
	verifier := oauth2.GenerateVerifier()
	state, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	return &PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     state,
	}, nil
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
