// Package identity resolves bearer tokens issued by the external identity
// provider into local user records, mirroring users on first sight and
// enforcing the blocked flag at the boundary.
package identity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"formhub/api/internal/store"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrBlocked      = errors.New("user is blocked")
)

// Claims are the provider-issued token claims we rely on.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type userStore interface {
	EnsureUser(ctx context.Context, id, email, name string) (store.User, error)
}

// Resolver verifies provider tokens and maps them to local users. An
// optional cache short-circuits the database lookup for recently seen
// tokens.
type Resolver struct {
	secret []byte
	users  userStore
	cache  *Cache
}

func NewResolver(secret []byte, users userStore, cache *Cache) *Resolver {
	return &Resolver{secret: secret, users: users, cache: cache}
}

// Resolve verifies the bearer token, lazily mirrors the user, and rejects
// blocked users. Cached entries still enforce the blocked flag since the
// flag is part of the cached record and the cache TTL bounds staleness.
func (r *Resolver) Resolve(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, ErrInvalidToken
	}

	cacheKey := hashToken(token)
	if r.cache != nil {
		if user, ok := r.cache.Get(ctx, cacheKey); ok {
			if user.Blocked {
				return store.User{}, ErrBlocked
			}
			return user, nil
		}
	}

	claims, err := r.verify(token)
	if err != nil {
		return store.User{}, err
	}

	user, err := r.users.EnsureUser(ctx, claims.Subject, claims.Email, claims.Name)
	if err != nil {
		return store.User{}, fmt.Errorf("sync user: %w", err)
	}
	if user.Blocked {
		return store.User{}, ErrBlocked
	}

	if r.cache != nil {
		r.cache.Put(ctx, cacheKey, user)
	}
	return user, nil
}

func (r *Resolver) verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.Email == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum)
}
