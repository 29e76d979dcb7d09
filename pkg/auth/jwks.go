package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

const DefaultCacheTTL = 300 * time.Second

// KeyCache keeps the signing keys of one JWKS endpoint for a fixed TTL.
//
// The mutex only guards the key map. The remote fetch runs unlocked, so two
// concurrent misses may both fetch; the last one to finish wins.
type KeyCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]crypto.PublicKey
	expiresAt time.Time

	fetches atomic.Int64
}

func NewKeyCache(url string, ttl time.Duration, client *http.Client) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &KeyCache{url: url, ttl: ttl, client: client, now: time.Now}
}

// Fetches reports how many times the key set was downloaded.
func (c *KeyCache) Fetches() int64 {
	return c.fetches.Load()
}

// Key returns the public key for kid. A miss or an expired cache triggers a
// single refresh; a kid still unknown afterwards is ErrUnauthorized.
func (c *KeyCache) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	c.invalidate()
	if err := c.refresh(ctx); err != nil {
		log.Warn().Err(err).Str("jwks_url", c.url).Msg("jwks refresh failed")
		return nil, ErrUnauthorized
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, ErrUnauthorized
}

func (c *KeyCache) lookup(kid string) (crypto.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil || !c.now().Before(c.expiresAt) {
		return nil, false
	}
	key, ok := c.keys[kid]
	return key, ok
}

func (c *KeyCache) invalidate() {
	c.mu.Lock()
	c.keys = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *KeyCache) refresh(ctx context.Context) error {
	c.fetches.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(payload["keys"], &entries); err != nil {
		return errors.New("jwks keys is not a list")
	}

	keys := make(map[string]crypto.PublicKey, len(entries))
	for _, raw := range entries {
		key, err := jwk.ParseKey(raw)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed jwk")
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			continue
		}
		pub, err := verificationKey(key)
		if err != nil {
			log.Warn().Err(err).Str("kid", kid).Msg("skipping unusable jwk")
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks has no usable keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// verificationKey returns the RSA or EC public key of a JWK. Private members
// are dropped and keys jwx does not validate itself are checked here.
func verificationKey(key jwk.Key) (crypto.PublicKey, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}
	var raw any
	if err := pub.Raw(&raw); err != nil {
		return nil, err
	}

	switch k := raw.(type) {
	case *rsa.PublicKey:
		if k.N == nil || k.N.Sign() <= 0 || k.E < 2 {
			return nil, errors.New("invalid rsa public key")
		}
		return k, nil
	case *ecdsa.PublicKey:
		if !k.Curve.IsOnCurve(k.X, k.Y) {
			return nil, errors.New("point is not on curve")
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", key.KeyType())
	}
}
