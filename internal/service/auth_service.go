package service

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey indicates that a request carried no key or a wrong one.
var ErrInvalidAPIKey = errors.New("invalid api key")

// AuthService checks API keys presented to the REST facade.
type AuthService interface {
	Verify(key string) error
	// Enabled reports whether any key is configured. Without one every
	// request is refused.
	Enabled() bool
}

type authService struct {
	key  []byte
	hash []byte
}

// NewAuthService accepts either a plain key or a bcrypt hash of it. The
// hash wins when both are set.
func NewAuthService(key, bcryptHash string) AuthService {
	s := &authService{}
	if h := strings.TrimSpace(bcryptHash); h != "" {
		s.hash = []byte(h)
	} else if k := strings.TrimSpace(key); k != "" {
		s.key = []byte(k)
	}
	return s
}

func (s *authService) Enabled() bool {
	return len(s.hash) > 0 || len(s.key) > 0
}

func (s *authService) Verify(key string) error {
	key = strings.TrimSpace(key)
	if key == "" || !s.Enabled() {
		return ErrInvalidAPIKey
	}
	if len(s.hash) > 0 {
		if err := bcrypt.CompareHashAndPassword(s.hash, []byte(key)); err != nil {
			return ErrInvalidAPIKey
		}
		return nil
	}
	if subtle.ConstantTimeCompare(s.key, []byte(key)) != 1 {
		return ErrInvalidAPIKey
	}
	return nil
}

// HashAPIKey returns the bcrypt hash to configure as server.apikey_hash.
func HashAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("api key is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
