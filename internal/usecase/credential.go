package usecase

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

const (
	pbkdf2Iterations = 100000
	saltSize         = 16
	derivedKeySize   = 32
	minPasswordLen   = 4
)

var (
	// ErrInvalidPassword is returned when a password does not match the stored credential.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrPasswordTooShort is returned when a new password is below the minimum length.
	ErrPasswordTooShort = errors.New("password too short")
)

// HashPassword derives a PBKDF2-SHA256 credential with a fresh random salt.
func HashPassword(password string) (*domain.Credential, error) {
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrPasswordTooShort, minPasswordLen)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &domain.Credential{
		Hash: hex.EncodeToString(derive(password, salt)),
		Salt: hex.EncodeToString(salt),
	}, nil
}

// CheckPassword reports whether password matches c. A nil credential matches anything.
func CheckPassword(c *domain.Credential, password string) bool {
	if c == nil {
		return true
	}
	salt, err := hex.DecodeString(c.Salt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(c.Hash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derive(password, salt), want) == 1
}

func derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, derivedKeySize, sha256.New)
}
