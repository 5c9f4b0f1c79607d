// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ZSC714725/encodequeue/internal/progress"
)

// Info is the subset of ffprobe's JSON output we use
type Info struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

// Format section of ffprobe output
type Format struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// Stream section of ffprobe output
type Stream struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	RFrameRate string `json:"r_frame_rate,omitempty"`
	BitRate    string `json:"bit_rate,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Duration in seconds, 0 when unknown
func (i Info) Duration() float64 {
	d, err := strconv.ParseFloat(i.Format.Duration, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// First returns the first stream of codecType ("video", "audio", "subtitle")
func (i Info) First(codecType string) (Stream, bool) {
	for _, s := range i.Streams {
		if s.CodecType == codecType {
			return s, true
		}
	}
	return Stream{}, false
}

// FrameRate evaluates r_frame_rate ("30000/1001")
func (s Stream) FrameRate() float64 {
	num, den, ok := strings.Cut(s.RFrameRate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Summary renders a short media information text
func (i Info) Summary() string {
	var b strings.Builder
	size, _ := strconv.ParseFloat(i.Format.Size, 64)
	fmt.Fprintf(&b, "General\n├ Format: %s\n├ Size: %s\n├ Duration: %s\n╰ Bitrate: %d Kbps\n",
		strings.ToUpper(i.Format.FormatName),
		progress.HumanBytes(size),
		progress.FormatDuration(secondsToDuration(i.Duration())),
		kbps(i.Format.BitRate))

	if v, ok := i.First("video"); ok {
		fmt.Fprintf(&b, "\nVideo\n├ Codec: %s\n├ Resolution: %dx%d\n├ FPS: %.2f\n╰ Bitrate: %d Kbps\n",
			strings.ToUpper(v.CodecName), v.Width, v.Height, v.FrameRate(), kbps(v.BitRate))
	}
	if a, ok := i.First("audio"); ok {
		fmt.Fprintf(&b, "\nAudio\n├ Codec: %s\n├ Sample rate: %s Hz\n├ Channels: %d\n╰ Bitrate: %d Kbps\n",
			strings.ToUpper(a.CodecName), a.SampleRate, a.Channels, kbps(a.BitRate))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseInfo decodes ffprobe -print_format json output
func ParseInfo(data []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	return info, nil
}

func probe(ctx context.Context, binary, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return ParseInfo(out)
}

func kbps(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v / 1000
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
