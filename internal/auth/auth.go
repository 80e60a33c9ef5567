// Package auth gates mutating canvas routes behind API keys or bearer JWTs.
//
// Keys come from three places, checked in order: the static list in config,
// a JSON keys file that is reloaded when it changes on disk, and the api_keys
// table of the canvas store.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/crucial/internal/canvas"
)

var (
	ErrAuthDisabled       = errors.New("auth disabled")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidKey         = errors.New("invalid api key")
)

// Config configures authentication.
type Config struct {
	// Required turns the gate on. When false every request is let through.
	Required    bool
	JWTSecret   string
	TokenExpiry time.Duration
	APIKeys     []string
}

// Method names how a principal authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodJWT    Method = "jwt"
)

// Principal is the authenticated caller.
type Principal struct {
	ID     string
	Label  string
	Method Method
}

// KeyLookup finds stored API keys. canvas.Store satisfies it.
type KeyLookup interface {
	LookupAPIKey(ctx context.Context, key string) (*canvas.APIKey, error)
}

// Service validates JWTs and API keys.
type Service struct {
	required bool
	jwt      *JWTService
	static   []string
	file     *KeyFile
	store    KeyLookup
}

// Option configures a Service.
type Option func(*Service)

// WithKeyFile adds a hot-reloaded keys file as a key source.
func WithKeyFile(file *KeyFile) Option {
	return func(s *Service) { s.file = file }
}

// WithKeyStore adds stored keys as a key source.
func WithKeyStore(store KeyLookup) Option {
	return func(s *Service) { s.store = store }
}

// NewService constructs an auth service.
func NewService(cfg Config, opts ...Option) *Service {
	service := &Service{required: cfg.Required}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	for _, key := range cfg.APIKeys {
		if key = strings.TrimSpace(key); key != "" {
			service.static = append(service.static, key)
		}
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && s.required
}

// GenerateJWT issues a signed token for subject.
func (s *Service) GenerateJWT(subject, label string) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(subject, label)
}

// ValidateJWT validates a JWT and returns the caller.
func (s *Service) ValidateJWT(token string) (*Principal, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey checks key against every configured source.
func (s *Service) ValidateAPIKey(ctx context.Context, key string) (*Principal, error) {
	if s == nil {
		return nil, ErrAuthDisabled
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingCredentials
	}

	// Compare against every static key so timing does not reveal which one matched.
	matched := false
	for _, candidate := range s.static {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			matched = true
		}
	}
	if matched || (s.file != nil && s.file.Contains(key)) {
		return keyPrincipal(key, ""), nil
	}

	if s.store != nil {
		stored, err := s.store.LookupAPIKey(ctx, key)
		switch {
		case err == nil:
			return keyPrincipal(key, stored.Label), nil
		case errors.Is(err, canvas.ErrNotFound):
		default:
			return nil, fmt.Errorf("lookup api key: %w", err)
		}
	}
	return nil, ErrInvalidKey
}

func keyPrincipal(key, label string) *Principal {
	sum := sha256.Sum256([]byte(key))
	return &Principal{
		ID:     "api_" + hex.EncodeToString(sum[:8]),
		Label:  label,
		Method: MethodAPIKey,
	}
}
