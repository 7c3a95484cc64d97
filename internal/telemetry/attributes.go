// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey = "http.method"

	// Channel and stream attributes
	ChannelIDKey    = "channel.id"
	ChannelNameKey  = "channel.name"
	StreamIDKey     = "stream.id"
	StreamCountKey  = "stream.count"
	AccountIDKey    = "account.id"
	ProfileIDKey    = "profile.id"
	ProbePhaseKey   = "probe.phase"
	ProbeOutcomeKey = "probe.outcome"

	// Upstream client attributes
	UpstreamRouteKey  = "upstream.route"
	UpstreamPageKey   = "upstream.page"
	UpstreamStatusKey = "upstream.status"
)

// ChannelAttributes creates channel-scoped span attributes.
func ChannelAttributes(channelID int64, name string, streamCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(ChannelIDKey, channelID),
		attribute.Int(StreamCountKey, streamCount),
	}
	if name != "" {
		attrs = append(attrs, attribute.String(ChannelNameKey, name))
	}
	return attrs
}

// ProbeAttributes creates probe-scoped span attributes.
func ProbeAttributes(streamID, profileID int64, phase, outcome string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(StreamIDKey, streamID),
		attribute.String(ProbePhaseKey, phase),
	}
	if profileID != 0 {
		attrs = append(attrs, attribute.Int64(ProfileIDKey, profileID))
	}
	if outcome != "" {
		attrs = append(attrs, attribute.String(ProbeOutcomeKey, outcome))
	}
	return attrs
}

// UpstreamAttributes creates upstream-request span attributes.
func UpstreamAttributes(route string, page, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(UpstreamRouteKey, route),
		attribute.Int(UpstreamStatusKey, status),
	}
	if page > 0 {
		attrs = append(attrs, attribute.Int(UpstreamPageKey, page))
	}
	return attrs
}
