package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCred fetches and caches client credentials tokens.
type ClientCred struct {
	conf *clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClientCred returns a ClientCred for conf. No token is requested until
// first use.
func NewClientCred(conf Conf) *ClientCred {
	return &ClientCred{conf: conf.toOauth2Config()}
}

// Token returns a valid access token, requesting a new one when the cached
// token is missing or expired.
func (c *ClientCred) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() {
		return c.token, nil
	}
	return c.refresh(ctx)
}

// ForceRefresh discards the cached token and requests a new one.
//
// Returns:
//   - string: The new access token.
//   - error: An error if the token endpoint refused the credentials.
func (c *ClientCred) ForceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}
	return t.AccessToken, nil
}

func (c *ClientCred) refresh(ctx context.Context) (*oauth2.Token, error) {
	t, err := c.conf.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	c.token = t
	return t, nil
}

// SetAuthHeader sets the Authorization header of r from a valid token.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	t, err := c.Token(r.Context())
	if err != nil {
		return err
	}
	t.SetAuthHeader(r)
	return nil
}
