// Package testutil provides keys, certificates and signed tokens for tests.
package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Signer signs tokens with an ECDSA key and an optional kid / x5c header.
type Signer struct {
	Key       *ecdsa.PrivateKey
	Method    jwt.SigningMethod
	KeyID     string
	CertChain []string
}

// NewSigner creates a P-256 ES256 signer with the given kid (may be empty).
func NewSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	return &Signer{Key: NewECKey(t, elliptic.P256()), Method: jwt.SigningMethodES256, KeyID: kid}
}

// NewECKey generates an ECDSA key on curve.
func NewECKey(t testing.TB, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return key
}

// Sign returns a compact JWS for claims.
func (s *Signer) Sign(t testing.TB, claims map[string]interface{}) string {
	t.Helper()
	return SignWith(t, s.Method, s.Key, s.header(), claims)
}

func (s *Signer) header() map[string]interface{} {
	h := map[string]interface{}{}
	if s.KeyID != "" {
		h["kid"] = s.KeyID
	}
	if len(s.CertChain) > 0 {
		h["x5c"] = s.CertChain
	}
	return h
}

// SignWith signs claims with method and key, merging header into the protected header.
// header["alg"] overrides the algorithm the token claims to use.
func SignWith(t testing.TB, method jwt.SigningMethod, key crypto.PrivateKey, header, claims map[string]interface{}) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims(claims))
	for k, v := range header {
		token.Header[k] = v
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// JWK returns the public key of s as an EC JWK.
func (s *Signer) JWK() map[string]interface{} {
	return ECJWK(s.KeyID, &s.Key.PublicKey)
}

// ECJWK encodes pub as a JWK.
func ECJWK(kid string, pub *ecdsa.PublicKey) map[string]interface{} {
	size := (pub.Curve.Params().BitSize + 7) / 8
	return map[string]interface{}{
		"kty": "EC",
		"kid": kid,
		"use": "sig",
		"crv": pub.Curve.Params().Name,
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
	}
}

// JWKS builds a JWKS document from JWK maps.
func JWKS(t testing.TB, keys ...map[string]interface{}) []byte {
	t.Helper()
	doc, err := json.Marshal(map[string]interface{}{"keys": keys})
	require.NoError(t, err)
	return doc
}

// Certificate is a generated certificate with its key.
type Certificate struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// X5C returns the certificate as an x5c entry (base64 DER).
func (c *Certificate) X5C() string {
	return base64.StdEncoding.EncodeToString(c.Cert.Raw)
}

// PEM returns the certificate PEM encoded.
func (c *Certificate) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Cert.Raw})
}

// NewCA creates a self-signed CA certificate.
func NewCA(t testing.TB, commonName string) *Certificate {
	t.Helper()
	key := NewECKey(t, elliptic.P256())
	tmpl := certTemplate(commonName)
	tmpl.IsCA = true
	tmpl.BasicConstraintsValid = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	return createCert(t, tmpl, tmpl, key, key)
}

// NewLeaf creates a leaf certificate for key signed by parent, or self-signed when parent is nil.
func NewLeaf(t testing.TB, commonName string, key *ecdsa.PrivateKey, parent *Certificate) *Certificate {
	t.Helper()
	tmpl := certTemplate(commonName)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	if parent == nil {
		return createCert(t, tmpl, tmpl, key, key)
	}
	return createCert(t, tmpl, parent.Cert, key, parent.Key)
}

func certTemplate(commonName string) *x509.Certificate {
	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
}

func createCert(t testing.TB, tmpl, parent *x509.Certificate, key, parentKey *ecdsa.PrivateKey) *Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Certificate{Cert: cert, Key: key}
}
