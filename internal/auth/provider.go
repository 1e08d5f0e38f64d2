package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"order-chatbot/internal/cache"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrAuth is returned when no bearer token could be obtained.
var ErrAuth = errors.New("failed to obtain an access token")

// expirySkew keeps a cached token from being handed out just before it lapses.
const expirySkew = 30 * time.Second

// Config holds the OAuth client-credentials settings.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// Provider fetches bearer tokens with the client-credentials grant and
// keeps them in Redis until shortly before expiry when a cache is configured.
type Provider struct {
	cfg      clientcredentials.Config
	http     *http.Client
	cache    *cache.Redis
	cacheKey string
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	mem cachedToken
}

// NewProvider builds a token provider. redis may be nil.
func NewProvider(cfg Config, redis *cache.Redis, logger *slog.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		http:     &http.Client{Timeout: timeout},
		cache:    redis,
		cacheKey: fmt.Sprintf("oauth:token:%s", cfg.ClientID),
		logger:   logger.With("component", "auth"),
		now:      time.Now,
	}
}

// Token returns a valid bearer token, fetching a new one when needed.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.valid(p.mem) {
		return p.mem.AccessToken, nil
	}

	if p.cache != nil {
		var cached cachedToken
		ok, err := p.cache.GetJSON(ctx, p.cacheKey, &cached)
		if err != nil {
			p.logger.Warn("read token cache failed", "error", err)
		} else if ok && p.valid(cached) {
			p.mem = cached
			return cached.AccessToken, nil
		}
	}

	tok, err := p.cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, p.http))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrAuth)
	}

	fresh := cachedToken{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
	p.mem = fresh
	if p.cache != nil && !tok.Expiry.IsZero() {
		ttl := tok.Expiry.Sub(p.now()) - expirySkew
		if ttl > 0 {
			if err := p.cache.SetJSON(ctx, p.cacheKey, fresh, ttl); err != nil {
				p.logger.Warn("set token cache failed", "error", err)
			}
		}
	}
	p.logger.Debug("access token fetched", "expiry", tok.Expiry)
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Token call fetches a new one.
// Used when the order API rejects a token before its expiry.
func (p *Provider) Invalidate(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mem = cachedToken{}
	if p.cache != nil {
		if err := p.cache.Delete(ctx, p.cacheKey); err != nil {
			p.logger.Warn("delete token cache failed", "error", err)
		}
	}
}

// valid reports whether t can still be used. A token without an expiry is
// kept until Invalidate drops it.
func (p *Provider) valid(t cachedToken) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return p.now().Add(expirySkew).Before(t.Expiry)
}
