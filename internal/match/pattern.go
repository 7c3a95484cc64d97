// SPDX-License-Identifier: MIT

// Package match turns per-channel regex patterns into stream
// membership plans.
package match

import (
	"regexp"
	"strings"
)

// ChannelNameToken is replaced with the regex-escaped channel name
// during preprocessing.
const ChannelNameToken = "CHANNEL_NAME"

var spaceRun = regexp.MustCompile(`[ ]+`)

// Preprocess expands ChannelNameToken and widens literal space runs to
// \s+ so tabs and multiple spaces in stream names still match.
// Applying it twice yields the same result as applying it once. With an
// empty channel name the token is left alone and matches literally.
func Preprocess(pattern, channelName string) string {
	out := pattern
	if channelName != "" {
		out = strings.ReplaceAll(out, ChannelNameToken, regexp.QuoteMeta(channelName))
	}
	return spaceRun.ReplaceAllString(out, `\s+`)
}

// Compile preprocesses and compiles a pattern. Matching is
// case-insensitive; stream names rarely agree on casing with channel
// names.
func Compile(pattern, channelName string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + Preprocess(pattern, channelName))
}
