// SPDX-License-Identifier: MIT

package udi

import (
	"regexp"

	"github.com/ManuGH/streamwarden/internal/model"
)

// ProfilesForStream returns every active profile on the stream's
// account, default profile first. This is the full failover universe;
// capacity is not considered. Custom streams have no profiles.
func (ix *Index) ProfilesForStream(s model.Stream) []model.Profile {
	if s.M3UAccountID == nil {
		return nil
	}
	return ix.accounts.Load().activeProfiles[*s.M3UAccountID]
}

// AvailableProfilesForStream returns the active profiles of the
// stream's account that currently have session headroom. A profile
// with MaxStreams 0 is always available. Order follows
// ProfilesForStream.
func (ix *Index) AvailableProfilesForStream(s model.Stream) []model.Profile {
	all := ix.ProfilesForStream(s)
	if len(all) == 0 {
		return nil
	}
	sessions := ix.sessions.Load()
	out := make([]model.Profile, 0, len(all))
	for _, p := range all {
		if p.MaxStreams > 0 && sessions.perProfile[p.ID] >= p.MaxStreams {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ProfileAvailable reports whether a single profile currently has
// session headroom. Inactive profiles are never available.
func (ix *Index) ProfileAvailable(p model.Profile) bool {
	if !p.IsActive {
		return false
	}
	if p.MaxStreams == 0 {
		return true
	}
	return ix.sessions.Load().perProfile[p.ID] < p.MaxStreams
}

// ApplyProfileURL rewrites a stream URL through the profile's
// search/replace pattern. The original URL is returned unchanged when
// the profile carries no pattern, the pattern does not compile, or it
// does not match.
func (ix *Index) ApplyProfileURL(s model.Stream, p model.Profile) string {
	if p.SearchPattern == "" {
		return s.URL
	}
	re := ix.compiledProfilePattern(p)
	if re == nil || !re.MatchString(s.URL) {
		return s.URL
	}
	return re.ReplaceAllString(s.URL, p.ReplacePattern)
}

func (ix *Index) compiledProfilePattern(p model.Profile) *regexp.Regexp {
	ix.urlCacheMu.Lock()
	defer ix.urlCacheMu.Unlock()
	if c, ok := ix.urlCache[p.ID]; ok && c.pattern == p.SearchPattern {
		return c.re
	}
	re, err := regexp.Compile(p.SearchPattern)
	if err != nil {
		ix.logger.Warn().
			Str("event", "udi.profile.pattern_invalid").
			Int64("profile_id", p.ID).
			Str("pattern", p.SearchPattern).
			Err(err).
			Msg("profile search pattern does not compile")
		re = nil
	}
	ix.urlCache[p.ID] = &compiledPattern{pattern: p.SearchPattern, re: re}
	return re
}
