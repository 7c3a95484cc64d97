// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"net/http"

	"github.com/ManuGH/streamwarden/internal/model"
)

const pathProxyStatus = "/api/proxy/ts/status/"

type proxyStatus struct {
	Channels []model.ProxySession `json:"channels"`
	Count    int                  `json:"count"`
}

// ProxySessions returns the live proxy session snapshot. Only the structured
// {channels, count} shape is accepted; a server still answering with the
// legacy flat array fails decoding and surfaces as a permanent error.
func (c *Client) ProxySessions(ctx context.Context) ([]model.ProxySession, error) {
	var status proxyStatus
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "proxy.sessions",
		path:   pathProxyStatus,
		out:    &status,
	})
	if err != nil {
		return nil, err
	}
	return status.Channels, nil
}
