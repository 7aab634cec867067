package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"

	"notification-relay/pkg/logging"
)

type jwksDocument struct {
	Keys []json.RawMessage `json:"keys"`
}

type jwk struct {
	Kty string   `json:"kty"`
	Kid string   `json:"kid"`
	Use string   `json:"use"`
	Alg string   `json:"alg"`
	Crv string   `json:"crv"`
	X   string   `json:"x"`
	Y   string   `json:"y"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5c []string `json:"x5c"`
}

// ParseKeySet parses a JWKS document. Keys without a kid or with an
// unsupported type are skipped; duplicate kids are an error.
func ParseKeySet(data []byte) (KeySet, error) {
	var doc jwksDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(KeySet, len(doc.Keys))
	for _, raw := range doc.Keys {
		var k jwk
		if err := json.Unmarshal(raw, &k); err != nil {
			logging.Warnf("Skipping undecodable JWK: %v", err)
			continue
		}
		if k.Kid == "" {
			logging.Warnf("Skipping JWK without kid (kty: %s)", k.Kty)
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}

		pub, err := k.publicKey()
		if err != nil {
			logging.Warnf("Skipping JWK %s: %v", k.Kid, err)
			continue
		}
		if _, exists := keys[k.Kid]; exists {
			return nil, fmt.Errorf("duplicate kid %q in JWKS", k.Kid)
		}
		keys[k.Kid] = &VerificationKey{KeyID: k.Kid, Algorithm: k.Alg, PublicKey: pub}
	}

	return keys, nil
}

func (k jwk) publicKey() (crypto.PublicKey, error) {
	// a certificate, when present, is authoritative for the key material
	if len(k.X5c) > 0 {
		cert, err := parseCertificate(k.X5c[0])
		if err != nil {
			return nil, err
		}
		return cert.PublicKey, nil
	}

	switch k.Kty {
	case "EC":
		return k.ecdsaKey()
	case "RSA":
		return k.rsaKey()
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func (k jwk) ecdsaKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}

	x, err := decodeBigInt(k.X)
	if err != nil {
		return nil, fmt.Errorf("invalid x coordinate: %w", err)
	}
	y, err := decodeBigInt(k.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid y coordinate: %w", err)
	}
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("point is not on curve %s", k.Crv)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := decodeBigInt(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	e, err := decodeBigInt(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	if !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func decodeBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// parseCertificate accepts an x5c entry (base64 DER) or a PEM block.
func parseCertificate(entry string) (*x509.Certificate, error) {
	var der []byte
	if strings.HasPrefix(entry, "-----BEGIN CERTIFICATE-----") {
		block, _ := pem.Decode([]byte(entry))
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block")
		}
		der = block.Bytes
	} else {
		var err error
		der, err = base64.StdEncoding.DecodeString(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to decode certificate: %w", err)
		}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
