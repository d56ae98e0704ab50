package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"eventtix/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	tokenKeyPrefix = "auth_token:"
	// TokenExpiryBuffer is how long before expiry a cached verification stops being trusted
	TokenExpiryBuffer = 60 * time.Second
)

// CachedVerifier remembers successful verifications in Redis until shortly
// before the token expires, so repeat requests skip the issuer's key checks.
// Cache failures fall through to the wrapped verifier.
type CachedVerifier struct {
	Next   Verifier
	Client *redis.Client
	Logger *logger.Logger
	Now    func() time.Time
}

func NewCachedVerifier(next Verifier, client *redis.Client, log *logger.Logger) *CachedVerifier {
	return &CachedVerifier{Next: next, Client: client, Logger: log, Now: time.Now}
}

func tokenKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return tokenKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedVerifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	key := tokenKey(rawToken)
	raw, err := c.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Principal
		if jerr := json.Unmarshal(raw, &p); jerr == nil && c.Now().Add(TokenExpiryBuffer).Before(p.ExpiresAt) {
			return p, nil
		}
	case err != redis.Nil:
		c.Logger.Warn("AUTH", fmt.Sprintf("Token cache unavailable: %v", err))
	}

	p, err := c.Next.Verify(ctx, rawToken)
	if err != nil {
		return Principal{}, err
	}

	ttl := p.ExpiresAt.Sub(c.Now()) - TokenExpiryBuffer
	if ttl <= 0 {
		return p, nil
	}
	if payload, err := json.Marshal(p); err == nil {
		if err := c.Client.Set(ctx, key, payload, ttl).Err(); err != nil {
			c.Logger.Warn("AUTH", fmt.Sprintf("Failed to cache verified token: %v", err))
		}
	}
	return p, nil
}
