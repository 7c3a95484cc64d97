// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/ManuGH/streamwarden/internal/match"
	"github.com/ManuGH/streamwarden/internal/model"
)

const defaultRegexTestMatches = 50

// RegexTestRequest previews patterns against the live stream index
// without touching any stored configuration.
type RegexTestRequest struct {
	Patterns []string `json:"patterns"`
	// ChannelID resolves CHANNEL_NAME in the patterns; without it the
	// token is matched literally.
	ChannelID  *int64 `json:"channel_id,omitempty"`
	MaxMatches int    `json:"max_matches,omitempty"`
}

// RegexTestStream is one matching stream in a preview result.
type RegexTestStream struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RegexTestResult is the preview outcome for one pattern.
type RegexTestResult struct {
	Pattern    string            `json:"pattern"`
	Error      string            `json:"error,omitempty"`
	MatchCount int               `json:"match_count"`
	Matches    []RegexTestStream `json:"matches"`
}

// TestRegexLive evaluates each pattern against the current stream
// snapshot. Invalid patterns report their compile error instead of
// failing the request.
func (e *Engine) TestRegexLive(req RegexTestRequest) ([]RegexTestResult, error) {
	if len(req.Patterns) == 0 {
		return nil, &model.FieldError{Field: "patterns", Msg: "at least one pattern required"}
	}
	maxMatches := req.MaxMatches
	if maxMatches <= 0 || maxMatches > 500 {
		maxMatches = defaultRegexTestMatches
	}

	channelName := ""
	if req.ChannelID != nil {
		ch, ok := e.index.Channel(*req.ChannelID)
		if !ok {
			return nil, &model.FieldError{Field: "channel_id", Msg: "unknown channel"}
		}
		channelName = ch.Name
	}

	out := make([]RegexTestResult, 0, len(req.Patterns))
	for _, raw := range req.Patterns {
		res := RegexTestResult{Pattern: raw, Matches: []RegexTestStream{}}
		re, err := match.Compile(raw, channelName)
		if err != nil {
			res.Error = err.Error()
			out = append(out, res)
			continue
		}
		streams := e.index.StreamsMatching(re, nil)
		res.MatchCount = len(streams)
		for _, s := range streams {
			if len(res.Matches) >= maxMatches {
				break
			}
			res.Matches = append(res.Matches, RegexTestStream{ID: s.ID, Name: s.Name})
		}
		out = append(out, res)
	}
	return out, nil
}
