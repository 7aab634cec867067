package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"notification-relay/internal/keystore"
)

var (
	// ErrMalformedToken is returned when a token cannot be split into header, payload and signature.
	ErrMalformedToken = errors.New("malformed token")
	// ErrSignatureInvalid is returned when the signature does not verify with the configured algorithm.
	ErrSignatureInvalid = errors.New("signature invalid")
)

// TokenVerifier verifies compact JWS tokens against a key store using one fixed algorithm.
type TokenVerifier struct {
	keys   keystore.KeyStore
	method jwt.SigningMethod
	parser *jwt.Parser
}

// NewTokenVerifier creates a verifier that accepts only algorithm (e.g. "ES256").
// The algorithm a token declares in its own header is never trusted on its own.
func NewTokenVerifier(keys keystore.KeyStore, algorithm string) (*TokenVerifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("key store is required")
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil || method == jwt.SigningMethodNone || strings.HasPrefix(algorithm, "HS") {
		return nil, fmt.Errorf("unsupported JWS algorithm %q", algorithm)
	}

	return &TokenVerifier{
		keys:   keys,
		method: method,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithJSONNumber(),
		),
	}, nil
}

// Algorithm returns the only algorithm the verifier accepts.
func (v *TokenVerifier) Algorithm() string {
	return v.method.Alg()
}

// Verify checks token and returns its claims. Numbers are returned as
// json.Number so integer claims keep every digit.
// Key store errors (keystore.ErrKeyNotFound, keystore.ErrNoKeyMaterial) are returned as-is.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (map[string]interface{}, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		key, err := v.keys.ResolveKey(ctx, keystore.HeaderFromMap(t.Header))
		if err != nil {
			return nil, err
		}
		if key.Algorithm != "" && key.Algorithm != v.method.Alg() {
			return nil, fmt.Errorf("key %q is published for %s, not %s", key.KeyID, key.Algorithm, v.method.Alg())
		}
		return key.PublicKey, nil
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}

	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, keystore.ErrKeyNotFound),
		errors.Is(err, keystore.ErrNoKeyMaterial),
		errors.Is(err, keystore.ErrKeySourceUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
}
