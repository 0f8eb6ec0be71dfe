// Package auth decorates outbound registry requests with an OAuth2 bearer
// token. The dynamic client registration and authorization-code flows are
// external collaborators; this package only consumes a token source.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// ErrInvalidToken signals that the registry rejected the presented token.
// The sender refreshes once and retries; if the refresh fails it detaches
// the auth client and continues unauthenticated.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Client wraps an oauth2.TokenSource with a cached token and an explicit
// invalidation hook. Safe for concurrent use.
type Client struct {
	mu  sync.Mutex
	src oauth2.TokenSource
	tok *oauth2.Token
}

// NewClient creates a Client over the given token source.
func NewClient(src oauth2.TokenSource) *Client {
	return &Client{src: src}
}

// Authorize injects an Authorization: Bearer header into req, fetching a
// token from the source if no valid one is cached.
func (c *Client) Authorize(req *http.Request) error {
	tok, err := c.token()
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

// Invalidate drops the cached token so the next Authorize or Refresh hits
// the token source.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tok = nil
}

// Refresh discards the cached token and fetches a new one, surfacing any
// token source error.
func (c *Client) Refresh() error {
	c.Invalidate()
	_, err := c.token()
	return err
}

func (c *Client) token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok != nil && c.tok.Valid() {
		return c.tok, nil
	}
	tok, err := c.src.Token()
	if err != nil {
		return nil, fmt.Errorf("auth: fetch token: %w", err)
	}
	c.tok = tok
	return tok, nil
}
