// Package auth verifies bearer tokens against a remote JWKS key set.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned for every rejected token. Callers get no detail.
var ErrUnauthorized = errors.New("unauthorized")

var signingMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

type Gate struct {
	Keys      *KeyCache
	Audiences []string
	Issuer    string
}

// NewGate builds a gate. audience is a comma separated list; a token matching
// any entry is accepted. An empty issuer is derived from the JWKS URL.
func NewGate(keys *KeyCache, audience, issuer string) *Gate {
	var auds []string
	for _, a := range strings.Split(audience, ",") {
		if a = strings.TrimSpace(a); a != "" {
			auds = append(auds, a)
		}
	}
	if issuer == "" {
		issuer = strings.ReplaceAll(keys.url, "/certs", "")
	}
	return &Gate{Keys: keys, Audiences: auds, Issuer: issuer}
}

// Authenticate returns the principal named by the token subject.
func (g *Gate) Authenticate(ctx context.Context, token string) (uuid.UUID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, ErrUnauthorized
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(signingMethods),
		jwt.WithIssuer(g.Issuer),
	)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnauthorized
		}
		return g.Keys.Key(ctx, kid)
	})
	if err != nil {
		return uuid.Nil, ErrUnauthorized
	}

	if !g.audienceAllowed(claims.Audience) {
		return uuid.Nil, ErrUnauthorized
	}

	principal, err := uuid.Parse(claims.Subject)
	if err != nil || principal == uuid.Nil {
		return uuid.Nil, ErrUnauthorized
	}
	return principal, nil
}

func (g *Gate) audienceAllowed(got jwt.ClaimStrings) bool {
	for _, want := range g.Audiences {
		for _, a := range got {
			if a == want {
				return true
			}
		}
	}
	return false
}
