package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"shopify-analytics-agent/internal/domain"
)

// ErrStoreNotAuthorized means no usable access token exists for the store.
var ErrStoreNotAuthorized = domain.ErrStoreNotAuthorized

// TokenResolver resolves per-store access tokens stored under
// <prefix>/stores/<store_id>/access-token. Successful lookups are cached for
// the configured TTL; failures are never cached.
type TokenResolver struct {
	getter Getter
	prefix string
	tokens *ttlcache.Cache[string, string]
}

// NewTokenResolver returns a started resolver. Call Close to stop its expiry
// goroutine.
func NewTokenResolver(getter Getter, prefix string, ttl time.Duration) (*TokenResolver, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: parameter prefix must not be empty")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	r := &TokenResolver{
		getter: getter,
		prefix: prefix,
		tokens: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
	go r.tokens.Start()
	return r, nil
}

func (r *TokenResolver) parameterName(storeID string) string {
	return r.prefix + "/stores/" + storeID + "/access-token"
}

// AccessToken returns the token for storeID. A missing parameter or an empty
// token yields ErrStoreNotAuthorized.
func (r *TokenResolver) AccessToken(ctx context.Context, storeID string) (string, error) {
	storeID = strings.ToLower(strings.TrimSpace(storeID))
	if storeID == "" {
		return "", errors.New("paramstore: store id is required")
	}
	if item := r.tokens.Get(storeID); item != nil && !item.IsExpired() {
		return item.Value(), nil
	}

	tok, err := ReadToken(ctx, r.getter, r.parameterName(storeID))
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrEmptyToken) {
			return "", fmt.Errorf("%w: %s", ErrStoreNotAuthorized, storeID)
		}
		return "", err
	}
	r.tokens.Set(storeID, tok, ttlcache.DefaultTTL)
	return tok, nil
}

// Close stops the expiry goroutine.
func (r *TokenResolver) Close() {
	r.tokens.Stop()
}

// Static serves one fixed token for every store. It backs local runs where
// no parameter store is available.
type Static string

func (s Static) AccessToken(_ context.Context, storeID string) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("%w: %s", ErrStoreNotAuthorized, storeID)
	}
	return string(s), nil
}
