// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ManuGH/streamwarden/internal/model"
)

const (
	pathAccounts   = "/api/m3u/accounts/"
	pathRefreshM3U = "/api/m3u/refresh/"
	pathVersion    = "/api/core/version/"
)

// Ping verifies connectivity and credentials against the version endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Version string `json:"version"`
	}
	return c.do(ctx, request{
		method: http.MethodGet,
		route:  "core.ping",
		path:   pathVersion,
		out:    &out,
	})
}

// ListM3UAccounts returns all provider accounts including their profiles.
func (c *Client) ListM3UAccounts(ctx context.Context) ([]model.M3UAccount, error) {
	var accounts []model.M3UAccount
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "accounts.list",
		path:   pathAccounts,
		out:    &accounts,
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// RefreshM3UAccount asks upstream to re-download one account's playlist.
func (c *Client) RefreshM3UAccount(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "accounts.refresh",
		path:   fmt.Sprintf("%s%d/", pathRefreshM3U, id),
	})
}

// RefreshAllM3U asks upstream to re-download every account's playlist.
func (c *Client) RefreshAllM3U(ctx context.Context) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "accounts.refresh_all",
		path:   pathRefreshM3U,
	})
}
