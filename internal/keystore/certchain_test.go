package keystore

import (
	"context"
	"crypto/elliptic"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-relay/internal/testutil"
)

func TestCertChainKeyStoreWithoutRoots(t *testing.T) {
	key := testutil.NewECKey(t, elliptic.P256())
	leaf := testutil.NewLeaf(t, "sandbox signer", key, nil)
	store := NewCertChainKeyStore(nil)

	got, err := store.ResolveKey(context.Background(), TokenHeader{Algorithm: "ES256", CertChain: []string{leaf.X5C()}})
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(got.PublicKey))
	assert.Equal(t, "ES256", got.Algorithm)
	assert.Empty(t, got.KeyID)

	pemEntry := string(leaf.PEM())
	got, err = store.ResolveKey(context.Background(), TokenHeader{CertChain: []string{pemEntry}})
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(got.PublicKey))
}

func TestCertChainKeyStoreWithRoots(t *testing.T) {
	root := testutil.NewCA(t, "Test Root CA")

	key := testutil.NewECKey(t, elliptic.P256())
	leaf := testutil.NewLeaf(t, "production signer", key, root)

	roots := x509.NewCertPool()
	roots.AddCert(root.Cert)
	store := NewCertChainKeyStore(roots)
	ctx := context.Background()

	got, err := store.ResolveKey(ctx, TokenHeader{CertChain: []string{leaf.X5C(), root.X5C()}})
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(got.PublicKey))

	selfIssued := testutil.NewLeaf(t, "self issued", testutil.NewECKey(t, elliptic.P256()), nil)
	_, err = store.ResolveKey(ctx, TokenHeader{CertChain: []string{selfIssued.X5C()}})
	assert.ErrorIs(t, err, ErrUntrustedChain)
}

func TestCertChainKeyStoreErrors(t *testing.T) {
	store := NewCertChainKeyStore(nil)
	ctx := context.Background()

	_, err := store.ResolveKey(ctx, TokenHeader{Algorithm: "ES256"})
	assert.ErrorIs(t, err, ErrNoKeyMaterial)

	// a kid this store cannot look up is an unknown key, not missing material
	_, err = store.ResolveKey(ctx, TokenHeader{KeyID: "kid-only"})
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.NotErrorIs(t, err, ErrNoKeyMaterial)

	_, err = store.ResolveKey(ctx, TokenHeader{CertChain: []string{"not base64!"}})
	assert.Error(t, err)

	_, err = store.ResolveKey(ctx, TokenHeader{CertChain: []string{"AAAA"}})
	assert.Error(t, err)
}

func TestLoadRootPool(t *testing.T) {
	root := testutil.NewCA(t, "Pool Root")
	path := filepath.Join(t.TempDir(), "roots.pem")
	require.NoError(t, os.WriteFile(path, root.PEM(), 0o600))

	pool, err := LoadRootPool(path)
	require.NoError(t, err)
	assert.NotNil(t, pool)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = LoadRootPool(bad)
	assert.Error(t, err)
}

func TestCertChainKeyStoreCachesOnlyTrustedChains(t *testing.T) {
	ctx := context.Background()

	t.Run("without roots nothing is cached", func(t *testing.T) {
		store := NewCertChainKeyStore(nil)
		for i := 0; i < 20; i++ {
			leaf := testutil.NewLeaf(t, "throwaway", testutil.NewECKey(t, elliptic.P256()), nil)
			_, err := store.ResolveKey(ctx, TokenHeader{CertChain: []string{leaf.X5C()}})
			require.NoError(t, err)
		}
		assert.Empty(t, store.certCache)
	})

	t.Run("with roots only verified chains are cached", func(t *testing.T) {
		root := testutil.NewCA(t, "Cache Root")
		roots := x509.NewCertPool()
		roots.AddCert(root.Cert)
		store := NewCertChainKeyStore(roots)

		for i := 0; i < 20; i++ {
			stranger := testutil.NewLeaf(t, "stranger", testutil.NewECKey(t, elliptic.P256()), nil)
			_, err := store.ResolveKey(ctx, TokenHeader{CertChain: []string{stranger.X5C()}})
			assert.ErrorIs(t, err, ErrUntrustedChain)
		}
		assert.Empty(t, store.certCache)

		leaf := testutil.NewLeaf(t, "signer", testutil.NewECKey(t, elliptic.P256()), root)
		chain := []string{leaf.X5C(), root.X5C()}
		for i := 0; i < 3; i++ {
			_, err := store.ResolveKey(ctx, TokenHeader{CertChain: chain})
			require.NoError(t, err)
		}
		assert.Len(t, store.certCache, 2)
	})
}
