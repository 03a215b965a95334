/**
 * @description
 * This file contains custom middleware for the HTTP router: Clerk JWT
 * authentication, which puts the caller's identity into the request context,
 * and per-owner rate limiting of write requests.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/subscribe/subscription-service/internal/app"
)

// OwnerIDContextKey is a custom type for the context key to avoid collisions.
type OwnerIDContextKey string

const ownerIDKey OwnerIDContextKey = "ownerID"

// accessTokenCookie is read when the request carries no Authorization header.
const accessTokenCookie = "accessToken"

const (
	defaultJWKSCacheTTL = 10 * time.Minute
	// minJWKSRefreshInterval bounds how often tokens with unknown key ids can
	// make us call the JWKS endpoint.
	minJWKSRefreshInterval = 30 * time.Second
)

// AuthConfig configures ClerkAuthMiddleware. Audience and Issuer are only
// enforced when set.
type AuthConfig struct {
	JWKSURL  string
	Audience string
	Issuer   string
	CacheTTL time.Duration
}

// ClerkAuthMiddleware creates a middleware that validates RS256 JWT tokens
// issued by Clerk and stores the subject claim as the owner id.
func ClerkAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := newJWKSCache(cfg.JWKSURL, cfg.CacheTTL)

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := tokenFromRequest(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				kid, ok := token.Header["kid"].(string)
				if !ok {
					return nil, errors.New("kid not found in token header")
				}
				return keys.key(r.Context(), kid)
			}, parserOpts...)
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ownerID, err := token.Claims.GetSubject()
			if err != nil || ownerID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "user id not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext retrieves the authenticated owner id from the request context.
func OwnerFromContext(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerIDKey).(string)
	return ownerID, ok && ownerID != ""
}

func tokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
			return "", errors.New("invalid Authorization header format")
		}
		return strings.TrimSpace(tokenString), nil
	}
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errors.New("authorization required")
}

// jwksCache holds the RSA keys of a JWKS endpoint and refetches them when
// they are older than ttl or an unknown kid shows up. Fetches happen one at a
// time and at most once per minInterval.
type jwksCache struct {
	url         string
	ttl         time.Duration
	minInterval time.Duration
	client      *http.Client

	refreshMu   sync.Mutex
	attemptedAt time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	return &jwksCache{
		url:         url,
		ttl:         ttl,
		minInterval: minJWKSRefreshInterval,
		client:      &http.Client{Timeout: 10 * time.Second},
		keys:        make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		// Keep serving a cached key while the endpoint is unreachable.
		if ok {
			return key, nil
		}
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

// refresh fetches the key set unless another fetch was attempted within
// minInterval, in which case the cached keys stand.
func (c *jwksCache) refresh(ctx context.Context) error {
	if c.url == "" {
		return errors.New("JWKS URL is not configured")
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if !c.attemptedAt.IsZero() && time.Since(c.attemptedAt) < c.minInterval {
		return nil
	}
	c.attemptedAt = time.Now()

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
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return fmt.Errorf("key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// parseRSAPublicKey parses RSA public key from modulus and exponent
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}

// RateLimiter spends one write of an owner's quota for an action.
type RateLimiter interface {
	Allow(ctx context.Context, ownerID, action string, limit int, window time.Duration) (app.RateLimitDecision, error)
}

// WriteRateLimitMiddleware limits each kind of state-changing request to
// limit per owner per minute. Reads pass through. When the limiter itself
// fails the request is let through and the failure logged.
func WriteRateLimitMiddleware(limiter RateLimiter, limit int, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action := writeAction(r)
			ownerID, ok := OwnerFromContext(r.Context())
			if limiter == nil || limit <= 0 || action == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), ownerID, action, limit, time.Minute)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "owner_id", ownerID, "action", action, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, please retry later")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// writeAction names the write a request performs, or returns "" for reads.
func writeAction(r *http.Request) string {
	switch r.Method {
	case http.MethodPost:
		if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/paid") {
			return "mark_paid"
		}
		return "create"
	case http.MethodPatch, http.MethodPut:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return ""
	}
}
