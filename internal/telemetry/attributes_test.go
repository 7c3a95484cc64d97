// SPDX-License-Identifier: MIT

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func findAttr(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestChannelAttributes(t *testing.T) {
	attrs := ChannelAttributes(42, "News One", 7)
	if v, ok := findAttr(attrs, ChannelIDKey); !ok || v.AsInt64() != 42 {
		t.Errorf("unexpected channel id: %v", v)
	}
	if v, ok := findAttr(attrs, ChannelNameKey); !ok || v.AsString() != "News One" {
		t.Errorf("unexpected channel name: %v", v)
	}

	// Name is omitted when empty.
	attrs = ChannelAttributes(42, "", 0)
	if _, ok := findAttr(attrs, ChannelNameKey); ok {
		t.Error("expected channel name to be omitted")
	}
}

func TestProbeAttributes(t *testing.T) {
	attrs := ProbeAttributes(9, 3, "free", "ok")
	if v, ok := findAttr(attrs, ProfileIDKey); !ok || v.AsInt64() != 3 {
		t.Errorf("unexpected profile id: %v", v)
	}
	if v, ok := findAttr(attrs, ProbePhaseKey); !ok || v.AsString() != "free" {
		t.Errorf("unexpected phase: %v", v)
	}

	attrs = ProbeAttributes(9, 0, "polling", "")
	if _, ok := findAttr(attrs, ProfileIDKey); ok {
		t.Error("expected profile id to be omitted for zero value")
	}
	if _, ok := findAttr(attrs, ProbeOutcomeKey); ok {
		t.Error("expected outcome to be omitted when empty")
	}
}

func TestUpstreamAttributes(t *testing.T) {
	attrs := UpstreamAttributes("streams", 3, 200)
	if v, ok := findAttr(attrs, UpstreamRouteKey); !ok || v.AsString() != "streams" {
		t.Errorf("unexpected route: %v", v)
	}
	if v, ok := findAttr(attrs, UpstreamPageKey); !ok || v.AsInt64() != 3 {
		t.Errorf("unexpected page: %v", v)
	}
	if v, ok := findAttr(attrs, UpstreamStatusKey); !ok || v.AsInt64() != 200 {
		t.Errorf("unexpected status: %v", v)
	}

	// Page is omitted when not paginated.
	attrs = UpstreamAttributes("login", 0, 200)
	if _, ok := findAttr(attrs, UpstreamPageKey); ok {
		t.Error("expected page to be omitted for zero value")
	}
}
