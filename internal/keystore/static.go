package keystore

import (
	"context"
	"fmt"
	"os"

	"notification-relay/pkg/logging"
)

// StaticKeyStore serves a key set loaded once at startup. It is never mutated.
type StaticKeyStore struct {
	keys KeySet
}

// NewStaticKeyStore wraps an already parsed key set.
func NewStaticKeyStore(keys KeySet) *StaticKeyStore {
	return &StaticKeyStore{keys: keys}
}

// LoadStaticKeyStore reads a JWKS document from path.
func LoadStaticKeyStore(path string) (*StaticKeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS file: %w", err)
	}
	keys, err := ParseKeySet(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS file %s: %w", path, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("JWKS file %s contains no usable keys", path)
	}

	logging.Infof("Loaded %d verification keys from %s", len(keys), path)
	return NewStaticKeyStore(keys), nil
}

func (s *StaticKeyStore) ResolveKey(_ context.Context, header TokenHeader) (*VerificationKey, error) {
	if header.KeyID == "" {
		return nil, ErrNoKeyMaterial
	}
	return s.keys.Lookup(header.KeyID)
}
