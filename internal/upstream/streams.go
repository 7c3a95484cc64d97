// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ManuGH/streamwarden/internal/model"
)

const pathStreams = "/api/channels/streams/"

// StreamFilter narrows ListStreams. Zero values mean "no constraint".
type StreamFilter struct {
	// IsCustom filters on the upstream is_custom flag when non-nil.
	IsCustom *bool
	// M3UAccountID filters to one provider account when > 0.
	M3UAccountID int64
	// PageSize overrides the default page size of 500.
	PageSize int
}

type streamPage struct {
	Count   int            `json:"count"`
	Next    *string        `json:"next"`
	Results []model.Stream `json:"results"`
}

const defaultPageSize = 500

// ListStreams returns all streams matching the filter. Filtering is pushed
// to the server when it accepts the query parameters; a server that rejects
// them gets a full page scan with client-side filtering instead.
func (c *Client) ListStreams(ctx context.Context, filter StreamFilter) ([]model.Stream, error) {
	streams, err := c.listStreamsFiltered(ctx, filter, true)
	if err == nil {
		return streams, nil
	}
	// Older servers reject unknown query parameters with a 400. Anything
	// else is a real failure and must not trigger a second full scan.
	var ue *Error
	if !errors.As(err, &ue) || ue.Status != http.StatusBadRequest || !filter.hasServerParams() {
		return nil, err
	}

	streams, err = c.listStreamsFiltered(ctx, StreamFilter{PageSize: filter.PageSize}, false)
	if err != nil {
		return nil, err
	}
	return filter.apply(streams), nil
}

func (f StreamFilter) hasServerParams() bool {
	return f.IsCustom != nil || f.M3UAccountID > 0
}

func (f StreamFilter) apply(streams []model.Stream) []model.Stream {
	out := streams[:0]
	for _, s := range streams {
		if f.IsCustom != nil && s.IsCustom != *f.IsCustom {
			continue
		}
		if f.M3UAccountID > 0 && s.AccountID() != f.M3UAccountID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Client) listStreamsFiltered(ctx context.Context, filter StreamFilter, serverSide bool) ([]model.Stream, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var all []model.Stream
	page := 1
	for {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(pageSize))
		if serverSide {
			if filter.IsCustom != nil {
				query.Set("is_custom", strconv.FormatBool(*filter.IsCustom))
			}
			if filter.M3UAccountID > 0 {
				query.Set("m3u_account", strconv.FormatInt(filter.M3UAccountID, 10))
			}
		}

		var pg streamPage
		err := c.do(ctx, request{
			method: http.MethodGet,
			route:  "streams.list",
			path:   pathStreams,
			query:  query,
			out:    &pg,
		})
		if err != nil {
			return nil, err
		}

		all = append(all, pg.Results...)

		// Early exit: trust the reported count over the next link so a
		// server that always populates next cannot loop us forever.
		if pg.Next == nil || len(pg.Results) == 0 || len(all) >= pg.Count {
			return all, nil
		}
		page++
	}
}

// UpdateStreamName renames a stream upstream. Used to add or remove the
// dead marker prefix so every consumer of the playlist sees it.
func (c *Client) UpdateStreamName(ctx context.Context, id int64, name string) error {
	return c.do(ctx, request{
		method: http.MethodPatch,
		route:  "streams.rename",
		path:   fmt.Sprintf("%s%d/", pathStreams, id),
		body:   map[string]string{"name": name},
	})
}
