// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"fmt"
	"net/http"
)

const (
	pathToken        = "/api/accounts/token/"
	pathTokenRefresh = "/api/accounts/token/refresh/"
)

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// ensureToken returns a bearer token, logging in first if none is held.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" {
		return c.accessToken, nil
	}
	if err := c.loginLocked(ctx); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

// renewToken replaces a rejected access token. When several workers hit a 401
// at once, the first one through the mutex renews and the rest reuse its
// result. Refresh is tried before a full login.
func (c *Client) renewToken(ctx context.Context, stale string) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && c.accessToken != stale {
		return c.accessToken, nil
	}

	if c.refreshToken != "" {
		if err := c.refreshLocked(ctx); err == nil {
			return c.accessToken, nil
		}
		c.refreshToken = ""
	}
	if err := c.loginLocked(ctx); err != nil {
		return "", fmt.Errorf("token renewal failed: %w", err)
	}
	return c.accessToken, nil
}

// loginLocked performs a full credential login. Caller holds tokenMu.
func (c *Client) loginLocked(ctx context.Context) error {
	var pair tokenPair
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "auth.login",
		path:   pathToken,
		body: map[string]string{
			"username": c.username,
			"password": c.password,
		},
		out:    &pair,
		noAuth: true,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if pair.Access == "" {
		return fmt.Errorf("login: empty access token in response")
	}
	c.accessToken = pair.Access
	c.refreshToken = pair.Refresh
	return nil
}

// refreshLocked exchanges the refresh token for a new access token.
// Caller holds tokenMu.
func (c *Client) refreshLocked(ctx context.Context) error {
	var pair tokenPair
	err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "auth.refresh",
		path:   pathTokenRefresh,
		body:   map[string]string{"refresh": c.refreshToken},
		out:    &pair,
		noAuth: true,
	})
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if pair.Access == "" {
		return fmt.Errorf("refresh: empty access token in response")
	}
	c.accessToken = pair.Access
	if pair.Refresh != "" {
		c.refreshToken = pair.Refresh
	}
	return nil
}

// InvalidateToken drops the held access token so the next call performs
// a fresh login.
func (c *Client) InvalidateToken() {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.accessToken = ""
}
