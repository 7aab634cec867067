package keystore

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"notification-relay/internal/config"
	"notification-relay/pkg/logging"
)

const jwksRedisKey = "notification_relay:jwks"

// NewFromConfig builds the key store named by cfg.KeySources.
// redisClient is optional and only used to share remote JWKS documents.
func NewFromConfig(cfg *config.Config, redisClient *redis.Client) (KeyStore, error) {
	var keySet KeyStore

	switch {
	case cfg.HasKeySource(config.KeySourceLocal):
		static, err := LoadStaticKeyStore(cfg.JWKSFile)
		if err != nil {
			return nil, err
		}
		keySet = static
	case cfg.HasKeySource(config.KeySourceRemote):
		opts := []RemoteOption{
			WithCacheTTL(cfg.JWKSCacheTTL),
			WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		}
		if redisClient != nil {
			opts = append(opts, WithSharedCache(NewRedisKeySetCache(redisClient, jwksRedisKey, cfg.JWKSCacheTTL)))
		}
		keySet = NewRemoteKeyStore(cfg.JWKSURL, opts...)
	}

	var certs KeyStore
	if cfg.HasKeySource(config.KeySourceX5C) {
		var roots *x509.CertPool
		if cfg.RootCertFile != "" {
			pool, err := LoadRootPool(cfg.RootCertFile)
			if err != nil {
				return nil, err
			}
			roots = pool
		} else {
			logging.Warnf("ROOT_CERT_FILE not set, x5c leaf certificates are used without chain verification")
		}
		certs = NewCertChainKeyStore(roots)
	}

	logging.Infof("Key store configured - sources: %s, algorithm: %s", strings.Join(cfg.KeySources, ","), cfg.Algorithm)

	switch {
	case keySet != nil && certs != nil:
		return &FallbackKeyStore{KeySet: keySet, Certs: certs}, nil
	case keySet != nil:
		return keySet, nil
	case certs != nil:
		return certs, nil
	default:
		return nil, fmt.Errorf("no key source configured")
	}
}
