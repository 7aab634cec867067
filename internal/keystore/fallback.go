package keystore

import (
	"context"
	"fmt"
)

// FallbackKeyStore combines a kid-addressed key set with the x5c strategy.
// A kid always goes to KeySet, even when the header also carries x5c.
type FallbackKeyStore struct {
	KeySet KeyStore
	Certs  KeyStore
}

func (s *FallbackKeyStore) ResolveKey(ctx context.Context, header TokenHeader) (*VerificationKey, error) {
	switch {
	case header.KeyID != "" && s.KeySet != nil:
		return s.KeySet.ResolveKey(ctx, header)
	case len(header.CertChain) > 0 && s.Certs != nil:
		return s.Certs.ResolveKey(ctx, header)
	case header.KeyID != "":
		// kid without a key set to look it up in
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, header.KeyID)
	default:
		return nil, ErrNoKeyMaterial
	}
}
