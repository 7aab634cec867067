// Package keystore resolves the public keys used to verify App Store JWS tokens.
//
// A KeyStore picks a key from the unverified token header. Strategies:
//
//   - StaticKeyStore: a JWKS file loaded once at startup, matched by kid.
//   - RemoteKeyStore: a JWKS URL fetched on cache miss, matched by kid.
//   - CertChainKeyStore: the leaf of the x5c chain embedded in the header.
//   - FallbackKeyStore: kid lookup first, x5c when the header has no kid.
package keystore

import (
	"context"
	"crypto"
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when the header names a kid the key set does not contain.
	ErrKeyNotFound = errors.New("key not found")
	// ErrNoKeyMaterial is returned when the header carries neither a kid nor an x5c chain.
	ErrNoKeyMaterial = errors.New("no key material in token header")
	// ErrKeySourceUnavailable is returned when a remote key set cannot be fetched.
	ErrKeySourceUnavailable = errors.New("key source unavailable")
	// ErrUntrustedChain is returned when an x5c chain does not verify against the configured roots.
	ErrUntrustedChain = errors.New("untrusted certificate chain")
)

// TokenHeader holds the hints read from a protected header before it is trusted.
type TokenHeader struct {
	KeyID     string
	Algorithm string
	CertChain []string
}

// HeaderFromMap extracts kid, alg and x5c from a decoded JWS header.
func HeaderFromMap(header map[string]interface{}) TokenHeader {
	var h TokenHeader
	h.KeyID, _ = header["kid"].(string)
	h.Algorithm, _ = header["alg"].(string)

	switch chain := header["x5c"].(type) {
	case []interface{}:
		for _, c := range chain {
			if s, ok := c.(string); ok && s != "" {
				h.CertChain = append(h.CertChain, s)
			}
		}
	case []string:
		h.CertChain = append(h.CertChain, chain...)
	case string:
		// some senders put a single certificate in x5c
		if chain != "" {
			h.CertChain = []string{chain}
		}
	}
	return h
}

// VerificationKey is a public key together with the identifiers it was published under.
type VerificationKey struct {
	KeyID     string
	Algorithm string
	PublicKey crypto.PublicKey
}

// KeyStore resolves the key that must verify a token with the given header.
type KeyStore interface {
	ResolveKey(ctx context.Context, header TokenHeader) (*VerificationKey, error)
}

// KeySet maps key identifiers to keys.
type KeySet map[string]*VerificationKey

// Lookup returns the key registered under kid.
func (s KeySet) Lookup(kid string) (*VerificationKey, error) {
	if key, ok := s[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}
