// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ManuGH/streamwarden/internal/model"
)

const (
	pathChannels = "/api/channels/channels/"
	pathGroups   = "/api/channels/groups/"
)

// ListChannels returns every channel with its ordered stream membership.
func (c *Client) ListChannels(ctx context.Context) ([]model.Channel, error) {
	var channels []model.Channel
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "channels.list",
		path:   pathChannels,
		out:    &channels,
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}

// GetChannel fetches one channel by ID.
func (c *Client) GetChannel(ctx context.Context, id int64) (model.Channel, error) {
	var ch model.Channel
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "channels.get",
		path:   fmt.Sprintf("%s%d/", pathChannels, id),
		out:    &ch,
	})
	if err != nil {
		return model.Channel{}, err
	}
	return ch, nil
}

// UpdateChannelStreams replaces a channel's stream list. Order is
// significant; upstream serves streams to players in this order.
func (c *Client) UpdateChannelStreams(ctx context.Context, channelID int64, streamIDs []int64) error {
	if streamIDs == nil {
		streamIDs = []int64{}
	}
	return c.do(ctx, request{
		method: http.MethodPatch,
		route:  "channels.update_streams",
		path:   fmt.Sprintf("%s%d/", pathChannels, channelID),
		body:   map[string][]int64{"streams": streamIDs},
	})
}

// ListChannelGroups returns all channel groups.
func (c *Client) ListChannelGroups(ctx context.Context) ([]model.ChannelGroup, error) {
	var groups []model.ChannelGroup
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "groups.list",
		path:   pathGroups,
		out:    &groups,
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}
