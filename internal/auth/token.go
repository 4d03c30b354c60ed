// Package auth supplies the bearer token used to authenticate the signaling
// connection.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when the store holds no token.
var ErrNoToken = errors.New("no token stored")

// Store is the persistent credential boundary.
type Store interface {
	Token() (string, error)
	SetToken(token string) error
	Clear() error
}

// FileStore keeps the token in a single 0600 file.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultStorePath returns the per-user token location.
func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "callroom", "token"), nil
}

// Token reads the stored token.
func (s *FileStore) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetToken writes the token, creating parent directories as needed.
func (s *FileStore) SetToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(token), 0o600)
}

// Clear removes the stored token. No-op when none is stored.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// DevClaims is the payload of locally minted dev tokens.
type DevClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// MintDevToken signs a short-lived HS256 bearer token for dev signaling
// stacks that accept a shared secret.
func MintDevToken(secret []byte, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &DevClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "callroom",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseDevToken validates signature and expiry of a dev token.
func ParseDevToken(secret []byte, tokenString string) (*DevClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DevClaims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*DevClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid dev token")
	}
	return claims, nil
}
