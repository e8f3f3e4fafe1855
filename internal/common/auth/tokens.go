// Package auth supplies bearer tokens for calls to the profile service.
package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/InternetOfUs/app-survey/internal/common/config"
	"github.com/InternetOfUs/app-survey/internal/common/errors"
)

// TokenSource returns a bearer token valid for at least the next request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentials runs the OAuth2 client-credentials grant and caches the token until
// ExpiryMargin before it expires.
type ClientCredentials struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	margin     time.Duration

	mu     sync.Mutex
	cached oauth2.TokenSource
}

func NewClientCredentials(cfg config.AuthConfig, httpClient *http.Client) *ClientCredentials {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		margin:     config.GetDuration(cfg.ExpiryMargin),
	}
}

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.cached == nil {
		// the context only carries the HTTP client used for refreshes
		base := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		c.cached = oauth2.ReuseTokenSourceWithExpiry(nil, c.cfg.TokenSource(base), c.margin)
	}
	src := c.cached
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", errors.NewTokenExpiredError("token request cancelled", err)
	}
	tok, err := src.Token()
	if err != nil {
		return "", errors.NewTokenExpiredError("failed to obtain access token", err)
	}
	return tok.AccessToken, nil
}

// Static always returns the same token. Used with pre-issued API tokens and in tests.
type Static string

func (s Static) Token(context.Context) (string, error) { return string(s), nil }
