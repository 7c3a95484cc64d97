// SPDX-License-Identifier: MIT

// Package score rates probed streams and orders them for write-back.
// Scoring is pure: same inputs, same number, no clock, no I/O.
package score

import (
	"strings"

	"github.com/ManuGH/streamwarden/internal/model"
)

// A playable stream whose bitrate could not be measured but whose
// resolution and frame rate are known scores this flat value before
// boosts, keeping it above broken streams and below fully probed ones.
const partialProbeScore = 0.40

const (
	refPixels        = 3840.0 * 2160.0
	bitrateFloorKbps = 1000.0
	bitrateCeilKbps  = 8000.0
)

// Input carries everything the scorer may consider for one stream.
type Input struct {
	// Result is the cached or fresh probe outcome; nil when the stream
	// has never been probed.
	Result *model.ProbeResult
	// Dead short-circuits to 0.0.
	Dead bool
	// Preference is the effective per-channel quality preference.
	Preference model.QualityPreference
	// AccountPriority feeds the flat priority boost.
	AccountPriority int
}

// Params are the operator-tunable scoring knobs.
type Params struct {
	Weights        model.ScoreWeights
	PriorityFactor float64
}

// Compute scores one stream. Dead streams score exactly 0.0 with no
// boosts applied; everything else is the quality base plus the
// preference adjustment plus priority*factor. Preference penalties can
// push the result negative.
func Compute(in Input, p Params) float64 {
	if in.Dead {
		return 0
	}
	return base(in.Result, p.Weights) +
		preferenceAdjust(in.Result, in.Preference) +
		PriorityOnly(in.AccountPriority, p)
}

// PriorityOnly is the score of streams exempt from probing: the
// account priority boost and nothing else.
func PriorityOnly(priority int, p Params) float64 {
	return float64(priority) * p.PriorityFactor
}

func base(r *model.ProbeResult, w model.ScoreWeights) float64 {
	if r == nil {
		return 0
	}
	if r.BitrateKbps == nil && r.Width > 0 && r.Height > 0 && r.FPS > 0 {
		return partialProbeScore
	}
	total := w.Resolution + w.Bitrate + w.FPS + w.Codec
	if total <= 0 {
		return 0
	}
	var bitrate float64
	if r.BitrateKbps != nil {
		bitrate = *r.BitrateKbps
	}
	sum := w.Resolution*normResolution(r.Width, r.Height) +
		w.Bitrate*normBitrate(bitrate) +
		w.FPS*normFPS(r.FPS) +
		w.Codec*normCodec(r.VideoCodec)
	return sum / total
}

// normResolution maps the pixel count onto [0,1] against a 4K ceiling.
func normResolution(w, h int) float64 {
	px := float64(w) * float64(h)
	if px <= 0 {
		return 0
	}
	if px >= refPixels {
		return 1
	}
	return px / refPixels
}

// normBitrate clips to the 1000-8000 kbps window before normalizing,
// so absurd outliers in either direction stop influencing the order.
func normBitrate(kbps float64) float64 {
	if kbps <= 0 {
		return 0
	}
	if kbps < bitrateFloorKbps {
		kbps = bitrateFloorKbps
	}
	if kbps > bitrateCeilKbps {
		kbps = bitrateCeilKbps
	}
	return kbps / bitrateCeilKbps
}

// normFPS buckets frame rates: 50/60 broadcast rates at the top,
// 25/30 in the middle, anything measurable above zero.
func normFPS(fps float64) float64 {
	switch {
	case fps >= 48:
		return 1.0
	case fps >= 24:
		return 0.6
	case fps > 0:
		return 0.3
	default:
		return 0
	}
}

func normCodec(codec string) float64 {
	switch strings.ToLower(codec) {
	case "hevc", "h265", "h.265":
		return 1.0
	case "h264", "avc", "h.264":
		return 0.8
	case "":
		return 0
	default:
		return 0.5
	}
}

func preferenceAdjust(r *model.ProbeResult, pref model.QualityPreference) float64 {
	if r == nil {
		return 0
	}
	is4K := r.Width >= 3840 && r.Height >= 2160
	switch pref {
	case model.PrefPrefer4K:
		if is4K {
			return 0.5
		}
	case model.PrefAvoid4K:
		if is4K {
			return -0.5
		}
	case model.PrefMax1080p:
		if r.Width > 1920 {
			return -10.0
		}
	case model.PrefMax720p:
		if r.Width > 1280 {
			return -10.0
		}
	}
	return 0
}
