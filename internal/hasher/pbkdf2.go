package hasher

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	PBKDF2Iterations = 150000
	PBKDF2KeyLength  = 32
	PBKDF2SaltLength = 16
)

// PBKDF2 is the local-store hash: PBKDF2-HMAC-SHA256 over a per-account
// random salt. Salt and hash are stored base64 encoded.
type PBKDF2 struct {
	iterations int
	random     io.Reader
}

// NewPBKDF2 returns a PBKDF2 hasher; zero iterations selects PBKDF2Iterations.
func NewPBKDF2(iterations int) *PBKDF2 {
	if iterations <= 0 {
		iterations = PBKDF2Iterations
	}
	return &PBKDF2{iterations: iterations, random: rand.Reader}
}

func (p *PBKDF2) Hash(password string) (string, string, error) {
	salt := make([]byte, PBKDF2SaltLength)
	if _, err := io.ReadFull(p.random, salt); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(salt)
	hash, err := p.HashWithSalt(password, encoded)
	if err != nil {
		return "", "", err
	}
	return hash, encoded, nil
}

// HashWithSalt derives the hash for password using an existing encoded salt.
func (p *PBKDF2) HashWithSalt(password, salt string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(p.derive(password, raw)), nil
}

func (p *PBKDF2) Verify(password, hash, salt string) bool {
	want, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(want) != PBKDF2KeyLength {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(p.derive(password, raw), want) == 1
}

func (p *PBKDF2) derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, p.iterations, PBKDF2KeyLength, sha256.New)
}
