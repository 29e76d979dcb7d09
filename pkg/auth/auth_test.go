package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const testSubject = "00000000-0000-0000-0000-000000000123"

type keyServer struct {
	srv   *httptest.Server
	hits  atomic.Int64
	body  atomic.Value
	rsa   *rsa.PrivateKey
	ec    *ecdsa.PrivateKey
	certs string
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ec key: %v", err)
	}

	ks := &keyServer{rsa: rsaKey, ec: ecKey}
	ks.setKeys(map[string]any{"keys": []map[string]string{
		{
			"kid": "rsa-key", "kty": "RSA", "alg": "RS256",
			"n": b64(rsaKey.N.Bytes()),
			"e": b64(big.NewInt(int64(rsaKey.E)).Bytes()),
		},
		{
			"kid": "ec-key", "kty": "EC", "crv": "P-256",
			"x": b64(ecKey.X.Bytes()),
			"y": b64(ecKey.Y.Bytes()),
		},
	}})

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/certs", func(w http.ResponseWriter, r *http.Request) {
		ks.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(ks.body.Load().([]byte))
	})
	ks.srv = httptest.NewServer(mux)
	t.Cleanup(ks.srv.Close)
	ks.certs = ks.srv.URL + "/auth/v1/certs"
	return ks
}

func (ks *keyServer) setKeys(payload any) {
	b, _ := json.Marshal(payload)
	ks.body.Store(b)
}

func (ks *keyServer) gate(audience string) *Gate {
	return NewGate(NewKeyCache(ks.certs, time.Minute, ks.srv.Client()), audience, "")
}

func (ks *keyServer) sign(t *testing.T, method jwt.SigningMethod, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = kid
	var key any = ks.rsa
	if _, ok := method.(*jwt.SigningMethodECDSA); ok {
		key = ks.ec
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func (ks *keyServer) claims(aud ...string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   testSubject,
		Issuer:    ks.srv.URL + "/auth/v1",
		Audience:  aud,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// TestAuthenticateValidToken verifies an RS256 token and the cache hit on reuse.
func TestAuthenticateValidToken(t *testing.T) {
	ks := newKeyServer(t)
	gate := ks.gate("authenticated")
	token := ks.sign(t, jwt.SigningMethodRS256, "rsa-key", ks.claims("authenticated"))

	got, err := gate.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got != uuid.MustParse(testSubject) {
		t.Fatalf("principal = %v, want %v", got, testSubject)
	}
	before := ks.hits.Load()

	if _, err := gate.Authenticate(context.Background(), token); err != nil {
		t.Fatalf("second Authenticate() error = %v", err)
	}
	if ks.hits.Load() != before {
		t.Fatalf("cached key refetched: hits %d -> %d", before, ks.hits.Load())
	}
}

// TestAuthenticateECToken checks EC keys parsed from the key set.
func TestAuthenticateECToken(t *testing.T) {
	ks := newKeyServer(t)
	token := ks.sign(t, jwt.SigningMethodES256, "ec-key", ks.claims("authenticated"))

	if _, err := ks.gate("authenticated").Authenticate(context.Background(), token); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
}

// TestUnknownKidRefetchesOnce verifies a miss on a warm cache costs exactly one fetch.
func TestUnknownKidRefetchesOnce(t *testing.T) {
	ks := newKeyServer(t)
	gate := ks.gate("authenticated")
	if _, err := gate.Authenticate(context.Background(), ks.sign(t, jwt.SigningMethodRS256, "rsa-key", ks.claims("authenticated"))); err != nil {
		t.Fatalf("warm-up error = %v", err)
	}
	before := gate.Keys.Fetches()

	_, err := gate.Authenticate(context.Background(), ks.sign(t, jwt.SigningMethodRS256, "rotated-key", ks.claims("authenticated")))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if got := gate.Keys.Fetches() - before; got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}
}

// TestRotatedKeyPickedUpAfterRefresh checks a new kid is accepted once published.
func TestRotatedKeyPickedUpAfterRefresh(t *testing.T) {
	ks := newKeyServer(t)
	gate := ks.gate("authenticated")
	if _, err := gate.Keys.Key(context.Background(), "rsa-key"); err != nil {
		t.Fatalf("warm-up error = %v", err)
	}

	ks.setKeys(map[string]any{"keys": []map[string]string{{
		"kid": "rotated", "kty": "RSA",
		"n": b64(ks.rsa.N.Bytes()), "e": b64(big.NewInt(int64(ks.rsa.E)).Bytes()),
	}}})

	token := ks.sign(t, jwt.SigningMethodRS256, "rotated", ks.claims("authenticated"))
	if _, err := gate.Authenticate(context.Background(), token); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
}

// TestExpiredCacheRefreshes verifies the TTL forces a download.
func TestExpiredCacheRefreshes(t *testing.T) {
	ks := newKeyServer(t)
	cache := NewKeyCache(ks.certs, time.Minute, ks.srv.Client())
	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.Key(context.Background(), "rsa-key"); err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if _, err := cache.Key(context.Background(), "rsa-key"); err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if cache.Fetches() != 1 {
		t.Fatalf("fetches = %d, want 1", cache.Fetches())
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Key(context.Background(), "rsa-key"); err != nil {
		t.Fatalf("Key() after expiry error = %v", err)
	}
	if cache.Fetches() != 2 {
		t.Fatalf("fetches = %d, want 2", cache.Fetches())
	}
}

// TestInvalidKeySetPayload covers the payload shapes that must be rejected.
func TestInvalidKeySetPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"keys not a list", map[string]any{"keys": map[string]string{"kid": "rsa-key"}}},
		{"missing keys", map[string]any{"other": 1}},
		{"no kid", map[string]any{"keys": []map[string]string{{"kty": "RSA"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks := newKeyServer(t)
			ks.setKeys(tt.payload)
			_, err := ks.gate("authenticated").Authenticate(context.Background(),
				ks.sign(t, jwt.SigningMethodRS256, "rsa-key", ks.claims("authenticated")))
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

// TestMixedKeySet checks private members are dropped, and that symmetric keys and
// off-curve points are skipped without failing the rest of the set.
func TestMixedKeySet(t *testing.T) {
	ks := newKeyServer(t)

	private, err := jwk.FromRaw(ks.rsa)
	if err != nil {
		t.Fatalf("FromRaw() error = %v", err)
	}
	if err := private.Set(jwk.KeyIDKey, "with-private"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	privateJSON, err := json.Marshal(private)
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}

	ks.setKeys(map[string]any{"keys": []any{
		json.RawMessage(privateJSON),
		map[string]string{"kid": "shared", "kty": "oct", "k": b64([]byte("secret"))},
		map[string]string{
			"kid": "off-curve", "kty": "EC", "crv": "P-256",
			"x": b64(ks.ec.X.Bytes()), "y": b64(new(big.Int).Add(ks.ec.Y, big.NewInt(1)).Bytes()),
		},
		"not an object",
	}})
	cache := NewKeyCache(ks.certs, time.Minute, ks.srv.Client())

	got, err := cache.Key(context.Background(), "with-private")
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	pub, ok := got.(*rsa.PublicKey)
	if !ok || !pub.Equal(&ks.rsa.PublicKey) {
		t.Fatalf("Key() = %T, want the rsa public key", got)
	}

	for _, kid := range []string{"shared", "off-curve"} {
		if _, err := cache.Key(context.Background(), kid); err == nil {
			t.Errorf("Key(%q) succeeded, want an unusable key", kid)
		}
	}
}

// TestClaimsRejected covers audience, issuer and subject checks.
func TestClaimsRejected(t *testing.T) {
	ks := newKeyServer(t)

	wrongAud := ks.claims("anon")
	wrongIss := ks.claims("authenticated")
	wrongIss.Issuer = "https://evil.example.com"
	badSub := ks.claims("authenticated")
	badSub.Subject = "not-a-uuid"
	expired := ks.claims("authenticated")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	for name, c := range map[string]jwt.RegisteredClaims{
		"audience": wrongAud,
		"issuer":   wrongIss,
		"subject":  badSub,
		"expired":  expired,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ks.gate("authenticated").Authenticate(context.Background(), ks.sign(t, jwt.SigningMethodRS256, "rsa-key", c))
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

// TestAudienceListAnyMatch checks the comma separated audience setting.
func TestAudienceListAnyMatch(t *testing.T) {
	ks := newKeyServer(t)
	token := ks.sign(t, jwt.SigningMethodRS256, "rsa-key", ks.claims("service"))

	if _, err := ks.gate("authenticated, service").Authenticate(context.Background(), token); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
}

// TestFetchFailureIsUnauthorized verifies an unreachable key set is not a 5xx.
func TestFetchFailureIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewKeyCache(srv.URL+"/certs", time.Minute, srv.Client())
	if _, err := cache.Key(context.Background(), "any"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}
