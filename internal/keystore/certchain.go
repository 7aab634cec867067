package keystore

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"
)

// CertChainKeyStore takes the key from the leaf of the x5c chain in the token
// header. With a root pool the chain must verify against it; without one the
// leaf is used as-is, which is what sandbox self-issued certificates need.
type CertChainKeyStore struct {
	roots *x509.CertPool
	now   func() time.Time

	certCache map[string]*x509.Certificate
	mutex     sync.RWMutex
}

// NewCertChainKeyStore creates the x5c strategy. roots may be nil.
func NewCertChainKeyStore(roots *x509.CertPool) *CertChainKeyStore {
	return &CertChainKeyStore{
		roots:     roots,
		now:       time.Now,
		certCache: make(map[string]*x509.Certificate),
	}
}

// LoadRootPool reads PEM certificates from path.
func LoadRootPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no PEM certificates found in %s", path)
	}
	return pool, nil
}

func (s *CertChainKeyStore) ResolveKey(_ context.Context, header TokenHeader) (*VerificationKey, error) {
	if len(header.CertChain) == 0 {
		if header.KeyID != "" {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, header.KeyID)
		}
		return nil, ErrNoKeyMaterial
	}

	chain, err := s.certificates(header.CertChain)
	if err != nil {
		return nil, err
	}

	if s.roots != nil {
		if err := s.verifyChain(chain); err != nil {
			return nil, err
		}
		s.remember(header.CertChain, chain)
	}

	return &VerificationKey{
		Algorithm: header.Algorithm,
		PublicKey: chain[0].PublicKey,
	}, nil
}

// certificates parses the chain, reusing certificates that verified before.
func (s *CertChainKeyStore) certificates(entries []string) ([]*x509.Certificate, error) {
	chain := make([]*x509.Certificate, 0, len(entries))
	for i, entry := range entries {
		s.mutex.RLock()
		cert, exists := s.certCache[entry]
		s.mutex.RUnlock()

		if !exists {
			var err error
			cert, err = parseCertificate(entry)
			if err != nil {
				return nil, fmt.Errorf("x5c[%d]: %w", i, err)
			}
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// remember caches a chain that verified against the roots.
// Unverified certificates are never cached.
func (s *CertChainKeyStore) remember(entries []string, chain []*x509.Certificate) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, entry := range entries {
		s.certCache[entry] = chain[i]
	}
}

func (s *CertChainKeyStore) verifyChain(chain []*x509.Certificate) error {
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: intermediates,
		CurrentTime:   s.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedChain, err)
	}
	return nil
}
