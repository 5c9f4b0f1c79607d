// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package ffmpeg

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ZSC714725/encodequeue/internal/job"
)

var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrMissingInput         = errors.New("missing input for operation")
	ErrUnknownDuration      = errors.New("source duration unknown")
	ErrBitrateTooLow        = errors.New("target size too small for source duration")
)

// QualityPreset is the scale target and video bitrate of a quality name
type QualityPreset struct {
	Resolution string `yaml:"resolution"` // WxH
	Bitrate    string `yaml:"bitrate"`    // e.g. 2500k
}

// DefaultQuality is used for unknown quality names
const DefaultQuality = "480p"

// DefaultQualities maps quality names to presets
var DefaultQualities = map[string]QualityPreset{
	"144p":  {Resolution: "256x144", Bitrate: "100k"},
	"240p":  {Resolution: "426x240", Bitrate: "250k"},
	"360p":  {Resolution: "640x360", Bitrate: "500k"},
	"480p":  {Resolution: "854x480", Bitrate: "1000k"},
	"720p":  {Resolution: "1280x720", Bitrate: "2500k"},
	"1080p": {Resolution: "1920x1080", Bitrate: "5000k"},
	"2160p": {Resolution: "3840x2160", Bitrate: "15000k"},
}

// Settings are the encoder parameters read from storage before a job runs
type Settings struct {
	Codec        string
	Preset       string
	CRF          int
	AudioBitrate string
	Qualities    map[string]QualityPreset
}

// DefaultSettings mirrors the bot defaults
func DefaultSettings() Settings {
	return Settings{
		Codec:        "libx264",
		Preset:       "medium",
		CRF:          28,
		AudioBitrate: "128k",
		Qualities:    DefaultQualities,
	}
}

// Request describes one encoder invocation
type Request struct {
	Operation job.Operation
	// Inputs are local paths, the primary source first followed by the
	// operation's extra inputs in job.ExtraInputs order.
	Inputs   []string
	Output   string
	WorkDir  string
	Settings Settings
}

// ConcatListPath is where the concat demuxer list of a merge is written
func ConcatListPath(req Request) string {
	return filepath.Join(req.WorkDir, "concat.txt")
}

// ConcatList renders the concat demuxer list for the request inputs
func ConcatList(inputs []string) string {
	var b strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(in, "'", `'\''`))
	}
	return b.String()
}

var textPositions = map[string]string{
	job.PositionTopLeft:     "x=10:y=10",
	job.PositionTopRight:    "x=w-tw-10:y=10",
	job.PositionBottomLeft:  "x=10:y=h-th-10",
	job.PositionBottomRight: "x=w-tw-10:y=h-th-10",
	job.PositionCenter:      "x=(w-tw)/2:y=(h-th)/2",
}

var overlayPositions = map[string]string{
	job.PositionTopLeft:     "overlay=10:10",
	job.PositionTopRight:    "overlay=W-w-10:10",
	job.PositionBottomLeft:  "overlay=10:H-h-10",
	job.PositionBottomRight: "overlay=W-w-10:H-h-10",
	job.PositionCenter:      "overlay=(W-w)/2:(H-h)/2",
}

// BuildArgs maps an operation to the ffmpeg argument list. duration is the
// probed source duration in seconds, 0 when unknown.
func BuildArgs(req Request, duration float64) ([]string, error) {
	need := 1 + len(job.ExtraInputs(req.Operation))
	if len(req.Inputs) < need {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrMissingInput, len(req.Inputs), need)
	}

	s := req.Settings
	in := req.Inputs[0]
	args := []string{"-hide_banner", "-y"}

	switch o := req.Operation.(type) {
	case job.Quality:
		q, ok := s.Qualities[o.Name]
		if !ok {
			q = DefaultQualities[DefaultQuality]
		}
		args = append(args,
			"-i", in,
			"-c:v", s.Codec,
			"-preset", s.Preset,
			"-crf", strconv.Itoa(s.CRF),
			"-vf", "scale="+q.Resolution+":force_original_aspect_ratio=decrease",
			"-b:v", q.Bitrate,
			"-c:a", "aac",
			"-b:a", s.AudioBitrate,
			"-movflags", "+faststart",
		)
	case job.Compress:
		vbr, err := CompressBitrate(o.TargetMB, duration, s.AudioBitrate)
		if err != nil {
			return nil, err
		}
		args = append(args,
			"-i", in,
			"-c:v", s.Codec,
			"-b:v", strconv.FormatInt(vbr, 10),
			"-c:a", "aac",
			"-b:a", s.AudioBitrate,
			"-movflags", "+faststart",
		)
	case job.Trim:
		args = append(args, "-i", in, "-ss", o.Start, "-to", o.End, "-c", "copy")
	case job.Merge:
		args = append(args, "-f", "concat", "-safe", "0", "-i", ConcatListPath(req), "-c", "copy")
	case job.TextWatermark:
		filter := fmt.Sprintf("drawtext=text='%s':fontsize=24:fontcolor=white:borderw=2:bordercolor=black:%s",
			escapeDrawtext(o.Text), textPositions[o.Position])
		args = append(args, "-i", in, "-vf", filter, "-c:a", "copy")
	case job.LogoWatermark:
		args = append(args, "-i", in, "-i", req.Inputs[1], "-filter_complex", overlayPositions[o.Position], "-c:a", "copy")
	case job.AddSubtitle:
		if o.Mode == job.SubtitleHard {
			args = append(args, "-i", in, "-vf", fmt.Sprintf("subtitles='%s'", escapeFilterPath(req.Inputs[1])), "-c:a", "copy")
		} else {
			args = append(args, "-i", in, "-i", req.Inputs[1], "-c", "copy", "-c:s", "mov_text")
		}
	case job.RemoveSubtitle:
		args = append(args, "-i", in, "-c", "copy", "-sn")
	case job.ExtractAudio:
		args = append(args, "-i", in, "-vn", "-acodec", "copy")
	case job.RemoveAudio:
		args = append(args, "-i", in, "-an", "-c:v", "copy")
	case job.AddAudio:
		args = append(args,
			"-i", in,
			"-i", req.Inputs[1],
			"-c:v", "copy",
			"-c:a", "aac",
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-shortest",
		)
	case job.ExtractThumbnail:
		args = append(args, "-i", in, "-ss", o.At, "-vframes", "1")
	case job.ChangeAspect:
		args = append(args, "-i", in, "-aspect", o.Ratio, "-c", "copy")
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOperation, req.Operation)
	}

	return append(args, req.Output), nil
}

// CompressBitrate is the video bitrate (bits/s) that makes duration seconds
// of video plus audio fit into targetMB megabytes.
func CompressBitrate(targetMB int, duration float64, audioBitrate string) (int64, error) {
	if duration <= 0 {
		return 0, ErrUnknownDuration
	}
	audio, err := ParseBitrate(audioBitrate)
	if err != nil {
		return 0, err
	}
	targetBits := float64(targetMB) * 8 * 1024 * 1024
	vbr := int64(targetBits/duration) - audio
	if vbr <= 0 {
		return 0, fmt.Errorf("%w: %d MB over %.0fs", ErrBitrateTooLow, targetMB, duration)
	}
	return vbr, nil
}

// ParseBitrate parses ffmpeg bitrate strings like "128k", "2M" or "96000"
func ParseBitrate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty bitrate")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1000 * 1000
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid bitrate %q", s)
	}
	return int64(v * float64(mult)), nil
}

// escapeDrawtext makes text safe inside a single quoted drawtext value
func escapeDrawtext(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, "’", `:`, `\:`, `%`, `\%`)
	return r.Replace(text)
}

func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.ReplaceAll(path, ":", `\:`)
	return strings.ReplaceAll(path, "'", `\'`)
}
