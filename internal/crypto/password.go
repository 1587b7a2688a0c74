package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. Changing them invalidates every stored hash.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltLen      = 16
)

var (
	ErrEmptyPassword = errors.New("password must not be empty")
	ErrMalformedHash = errors.New("malformed password hash")
)

// HashPassword derives a salted scrypt digest and returns it as hex(salt):hex(digest).
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	digest, err := derive(password, salt)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(digest), nil
}

// VerifyPassword checks password against a record produced by HashPassword.
// A mismatch returns false with a nil error; ErrMalformedHash is reserved for
// records that cannot be parsed.
func VerifyPassword(password, record string) (bool, error) {
	if password == "" {
		return false, ErrEmptyPassword
	}

	salt, want, err := parseRecord(record)
	if err != nil {
		return false, err
	}

	got, err := derive(password, salt)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func parseRecord(record string) (salt, digest []byte, err error) {
	parts := strings.Split(record, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, nil, ErrMalformedHash
	}

	salt, err = hex.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: salt is not hex", ErrMalformedHash)
	}
	digest, err = hex.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: digest is not hex", ErrMalformedHash)
	}
	return salt, digest, nil
}

func derive(password string, salt []byte) ([]byte, error) {
	digest, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return digest, nil
}
