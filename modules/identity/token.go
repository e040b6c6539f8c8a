// Package identity issues and verifies signed session credentials and hashes
// account passwords.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Reason classifies why a credential was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonMissing          Reason = "missing"
	ReasonMalformed        Reason = "malformed"
	ReasonExpired          Reason = "expired"
	ReasonSignatureInvalid Reason = "signature-invalid"
)

// ErrInvalidCredential matches every *InvalidCredentialError.
var ErrInvalidCredential = errors.New("invalid credential")

// InvalidCredentialError is returned by Verify when a credential is rejected.
type InvalidCredentialError struct {
	Reason Reason
	Err    error
}

func (e *InvalidCredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid credential (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid credential (%s)", e.Reason)
}

func (e *InvalidCredentialError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrInvalidCredential.
func (e *InvalidCredentialError) Is(target error) bool {
	return target == ErrInvalidCredential
}

// ReasonOf returns the rejection reason carried by err, or "" when err is not
// a credential rejection.
func ReasonOf(err error) Reason {
	var invalid *InvalidCredentialError
	if errors.As(err, &invalid) {
		return invalid.Reason
	}
	return ""
}

const tokenTypeAccess = "access"

// Config holds token configuration.
type Config struct {
	SecretKey string
	TokenTTL  time.Duration
	Issuer    string
}

// Claims are the JWT claims carried by an access credential. The subject is
// the identity.
type Claims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 access credentials.
type TokenManager struct {
	config Config
}

// NewTokenManager creates a TokenManager with the given configuration.
func NewTokenManager(config Config) *TokenManager {
	return &TokenManager{config: config}
}

// TokenTTL returns the lifetime of issued credentials.
func (m *TokenManager) TokenTTL() time.Duration {
	return m.config.TokenTTL
}

// Issue signs a credential for identity, valid from now for the configured TTL.
func (m *TokenManager) Issue(identity string, now time.Time) (string, error) {
	if identity == "" {
		return "", errors.New("identity is required")
	}
	claims := Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks credential at time now and returns the identity it carries.
// It depends only on its inputs and the signing key.
func (m *TokenManager) Verify(credential string, now time.Time) (string, error) {
	if credential == "" {
		return "", &InvalidCredentialError{Reason: ReasonMissing}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(credential, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(m.config.SecretKey), nil
	})
	if err != nil {
		return "", &InvalidCredentialError{Reason: classify(err), Err: err}
	}
	if !token.Valid || claims.Subject == "" || claims.TokenType != tokenTypeAccess {
		return "", &InvalidCredentialError{Reason: ReasonMalformed}
	}

	return claims.Subject, nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ReasonExpired
	default:
		return ReasonMalformed
	}
}
