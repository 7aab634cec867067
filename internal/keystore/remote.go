package keystore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"notification-relay/pkg/logging"
)

// KeySetCache is an optional second-level cache for the raw JWKS document,
// shared between service instances.
type KeySetCache interface {
	// Get returns the cached document, or nil when there is none.
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, document []byte) error
}

// RemoteKeyStore serves keys from a JWKS URL. The document is fetched on a
// cache miss only; concurrent misses may fetch twice and the last fetch wins.
type RemoteKeyStore struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	shared     KeySetCache
	now        func() time.Time

	mutex     sync.RWMutex
	keys      KeySet
	fetchedAt time.Time
}

// RemoteOption configures a RemoteKeyStore.
type RemoteOption func(*RemoteKeyStore)

// WithHTTPClient sets the client used for JWKS fetches.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *RemoteKeyStore) {
		s.httpClient = client
	}
}

// WithCacheTTL bounds how long fetched keys are trusted. Zero keeps them for the process lifetime.
func WithCacheTTL(ttl time.Duration) RemoteOption {
	return func(s *RemoteKeyStore) {
		s.ttl = ttl
	}
}

// WithSharedCache consults cache before fetching from the URL.
func WithSharedCache(cache KeySetCache) RemoteOption {
	return func(s *RemoteKeyStore) {
		s.shared = cache
	}
}

// NewRemoteKeyStore creates a key store backed by the JWKS at url.
func NewRemoteKeyStore(url string, opts ...RemoteOption) *RemoteKeyStore {
	s := &RemoteKeyStore{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		keys:       make(KeySet),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RemoteKeyStore) ResolveKey(ctx context.Context, header TokenHeader) (*VerificationKey, error) {
	if header.KeyID == "" {
		return nil, ErrNoKeyMaterial
	}

	if key, ok := s.cached(header.KeyID); ok {
		return key, nil
	}

	if s.shared != nil {
		if key, ok := s.fromSharedCache(ctx, header.KeyID); ok {
			return key, nil
		}
	}

	keys, raw, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySourceUnavailable, err)
	}
	s.store(keys)

	if s.shared != nil {
		if err := s.shared.Set(ctx, raw); err != nil {
			logging.Warnf("Failed to store JWKS in shared cache: %v", err)
		}
	}

	return keys.Lookup(header.KeyID)
}

// cached returns a key from the in-process cache if it is still fresh.
func (s *RemoteKeyStore) cached(kid string) (*VerificationKey, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.ttl > 0 && s.now().Sub(s.fetchedAt) >= s.ttl {
		return nil, false
	}
	key, ok := s.keys[kid]
	return key, ok
}

func (s *RemoteKeyStore) fromSharedCache(ctx context.Context, kid string) (*VerificationKey, bool) {
	raw, err := s.shared.Get(ctx)
	if err != nil {
		logging.Warnf("Failed to read JWKS from shared cache: %v", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	keys, err := ParseKeySet(raw)
	if err != nil {
		logging.Warnf("Ignoring unparsable JWKS in shared cache: %v", err)
		return nil, false
	}
	key, ok := keys[kid]
	if !ok {
		return nil, false
	}
	s.store(keys)
	return key, true
}

func (s *RemoteKeyStore) store(keys KeySet) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.keys = keys
	s.fetchedAt = s.now()
}

// fetch downloads and parses the JWKS document. No lock is held while it runs.
func (s *RemoteKeyStore) fetch(ctx context.Context) (KeySet, []byte, error) {
	logging.Infof("Fetching JWKS from %s", s.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("JWKS fetch returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read JWKS body: %w", err)
	}

	keys, err := ParseKeySet(raw)
	if err != nil {
		return nil, nil, err
	}

	logging.Infof("Fetched %d verification keys from %s", len(keys), s.url)
	return keys, raw, nil
}
