// SPDX-License-Identifier: MIT

// Package analyzer runs ffprobe against stream URLs and distills the
// output into resolution, frame rate, codecs and bitrate.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/rs/zerolog"
)

// Params describe one probe invocation.
type Params struct {
	URL       string
	UserAgent string
	// Proxy is handed to ffprobe via the http_proxy environment.
	Proxy string
	// Duration bounds how much media ffprobe analyzes.
	Duration time.Duration
	// Timeout is the wall-clock budget per attempt.
	Timeout time.Duration
	// Retries is the number of additional attempts after a failure.
	Retries    int
	RetryDelay time.Duration
}

// Result is the distilled probe outcome. BitrateKbps is nil when the
// container exposes no bitrate; zero dimensions with status OK mean
// the URL answered but carries no usable video.
type Result struct {
	Status      model.ProbeStatus
	Width       int
	Height      int
	FPS         float64
	VideoCodec  string
	AudioCodec  string
	BitrateKbps *float64
	Error       string
}

// Prober abstracts the analyzer for the probe runner.
type Prober interface {
	Probe(ctx context.Context, p Params) Result
}

// FFprobe shells out to the ffprobe binary.
type FFprobe struct {
	bin    string
	logger zerolog.Logger
}

func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{bin: bin, logger: log.WithComponent("analyzer")}
}

// Probe runs ffprobe with retries. It returns the first OK result, or
// the last failure once attempts are exhausted or the context ends.
func (f *FFprobe) Probe(ctx context.Context, p Params) Result {
	attempts := p.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	var last Result
	for i := 0; i < attempts; i++ {
		last = f.probeOnce(ctx, p)
		if last.Status == model.ProbeOK || ctx.Err() != nil {
			return last
		}
		if i < attempts-1 && p.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(p.RetryDelay):
			}
		}
	}
	return last
}

func (f *FFprobe) probeOnce(ctx context.Context, p Params) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.bin, buildArgs(p)...)
	if p.Proxy != "" {
		cmd.Env = append(os.Environ(), "http_proxy="+p.Proxy, "https_proxy="+p.Proxy)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.logger.Debug().
				Str("event", "analyzer.probe.timeout").
				Dur("elapsed", time.Since(start)).
				Msg("ffprobe hit the attempt deadline")
			return Result{Status: model.ProbeTimeout, Error: "ffprobe timed out after " + timeout.String()}
		}
		return Result{Status: model.ProbeError, Error: probeErrorMessage(err, stderr.Bytes())}
	}
	res, perr := parseOutput(stdout.Bytes())
	if perr != nil {
		return Result{Status: model.ProbeError, Error: "unreadable ffprobe output: " + perr.Error()}
	}
	return res
}

func buildArgs(p Params) []string {
	analyze := p.Duration
	if analyze <= 0 {
		analyze = 10 * time.Second
	}
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-analyzeduration", strconv.FormatInt(analyze.Microseconds(), 10),
		"-probesize", "5000000",
	}
	if p.UserAgent != "" {
		args = append(args, "-user_agent", p.UserAgent)
	}
	return append(args, "-i", p.URL)
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		BitRate      string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		BitRate string `json:"bit_rate"`
	} `json:"format"`
}

func parseOutput(raw []byte) (Result, error) {
	var data ffprobeOutput
	if err := json.Unmarshal(raw, &data); err != nil {
		return Result{}, err
	}
	res := Result{Status: model.ProbeOK}
	var videoBitrate string
	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if res.Width != 0 {
				continue // first video stream wins
			}
			res.Width = s.Width
			res.Height = s.Height
			res.VideoCodec = s.CodecName
			res.FPS = parseFrameRate(s.AvgFrameRate)
			if res.FPS == 0 {
				res.FPS = parseFrameRate(s.RFrameRate)
			}
			videoBitrate = s.BitRate
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}
	if kbps, ok := parseBitrateKbps(data.Format.BitRate); ok {
		res.BitrateKbps = &kbps
	} else if kbps, ok := parseBitrateKbps(videoBitrate); ok {
		res.BitrateKbps = &kbps
	}
	return res, nil
}

// parseFrameRate reads ffprobe's fractional rates, e.g. "50/1".
func parseFrameRate(s string) float64 {
	if s == "" {
		return 0
	}
	if num, den, found := strings.Cut(s, "/"); found {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseBitrateKbps converts ffprobe's bits-per-second strings. A
// present-but-zero bitrate is kept: it marks a dead source, which is
// different from an unmeasured one.
func parseBitrateKbps(s string) (float64, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	bps, err := strconv.ParseFloat(s, 64)
	if err != nil || bps < 0 {
		return 0, false
	}
	return bps / 1000.0, true
}

func probeErrorMessage(err error, stderr []byte) string {
	msg := err.Error()
	if tail := lastLine(stderr); tail != "" {
		msg += ": " + tail
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
