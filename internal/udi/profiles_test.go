// SPDX-License-Identifier: MIT

package udi

import (
	"context"
	"testing"

	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesForStream_OrderAndActivity(t *testing.T) {
	ix := New(testSource())
	require.NoError(t, ix.RefreshAll(context.Background()))

	stream, ok := ix.Stream(1)
	require.True(t, ok)

	all := ix.ProfilesForStream(stream)
	require.Len(t, all, 2, "inactive profiles are excluded")
	assert.Equal(t, int64(101), all[0].ID, "default profile first")
	assert.Equal(t, int64(102), all[1].ID)

	custom, ok := ix.Stream(9)
	require.True(t, ok)
	assert.Nil(t, ix.ProfilesForStream(custom))
}

func TestAvailableProfilesForStream_CapacityView(t *testing.T) {
	src := testSource()
	ix := New(src)
	require.NoError(t, ix.RefreshAll(context.Background()))

	stream, _ := ix.Stream(1)

	// profile 101 has 1/2 sessions, 102 has 0/1: both available
	avail := ix.AvailableProfilesForStream(stream)
	require.Len(t, avail, 2)

	src.setSessions([]model.ProxySession{
		{ChannelID: 10, M3UProfileID: 101},
		{ChannelID: 11, M3UProfileID: 101},
		{ChannelID: 12, M3UProfileID: 102},
	})
	require.NoError(t, ix.RefreshSessions(context.Background()))

	avail = ix.AvailableProfilesForStream(stream)
	assert.Empty(t, avail, "both profiles at capacity")

	// MaxStreams 0 is never capacity-limited
	beta, _ := ix.Stream(2)
	require.Len(t, ix.AvailableProfilesForStream(beta), 1)
}

func TestProfileAvailable(t *testing.T) {
	ix := New(testSource())
	require.NoError(t, ix.RefreshAll(context.Background()))

	p101, _ := ix.Profile(101)
	p103, _ := ix.Profile(103)

	assert.True(t, ix.ProfileAvailable(p101))
	assert.False(t, ix.ProfileAvailable(p103), "inactive profile is never available")
}

func TestApplyProfileURL(t *testing.T) {
	ix := New(testSource())
	require.NoError(t, ix.RefreshAll(context.Background()))

	stream := model.Stream{ID: 1, URL: "http://host:8080/live/user/pass/42.ts"}

	tests := []struct {
		name    string
		profile model.Profile
		want    string
	}{
		{
			name:    "no pattern",
			profile: model.Profile{ID: 300},
			want:    stream.URL,
		},
		{
			name: "rewrites credentials",
			profile: model.Profile{
				ID:             301,
				SearchPattern:  `/live/user/pass/`,
				ReplacePattern: `/live/alt/secret/`,
			},
			want: "http://host:8080/live/alt/secret/42.ts",
		},
		{
			name: "non-matching pattern leaves URL unchanged",
			profile: model.Profile{
				ID:             302,
				SearchPattern:  `/vod/`,
				ReplacePattern: `/film/`,
			},
			want: stream.URL,
		},
		{
			name: "invalid pattern leaves URL unchanged",
			profile: model.Profile{
				ID:            303,
				SearchPattern: `([`,
			},
			want: stream.URL,
		},
		{
			name: "capture groups",
			profile: model.Profile{
				ID:             304,
				SearchPattern:  `^http://([^/]+)/live/`,
				ReplacePattern: `https://$1/hls/`,
			},
			want: "https://host:8080/hls/user/pass/42.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ix.ApplyProfileURL(stream, tt.profile))
		})
	}
}

func TestApplyProfileURL_RecompilesOnPatternChange(t *testing.T) {
	ix := New(testSource())
	require.NoError(t, ix.RefreshAll(context.Background()))

	stream := model.Stream{ID: 1, URL: "http://host/a/1.ts"}

	p := model.Profile{ID: 400, SearchPattern: `/a/`, ReplacePattern: `/b/`}
	assert.Equal(t, "http://host/b/1.ts", ix.ApplyProfileURL(stream, p))

	// same profile id, new pattern: cache must not serve the stale regex
	p.SearchPattern = `/a/1`
	p.ReplacePattern = `/c/9`
	assert.Equal(t, "http://host/c/9.ts", ix.ApplyProfileURL(stream, p))
}
