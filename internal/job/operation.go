// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package job

import (
	"fmt"
	"regexp"
	"strings"
)

// Operation is the tagged variant describing what a job does to its source.
// The set of implementations is closed to this package.
type Operation interface {
	Kind() string
	Validate() error
	operation()
}

// Watermark and overlay positions
const (
	PositionTopLeft     = "top_left"
	PositionTopRight    = "top_right"
	PositionBottomLeft  = "bottom_left"
	PositionBottomRight = "bottom_right"
	PositionCenter      = "center"
)

// Subtitle modes
const (
	SubtitleSoft = "soft"
	SubtitleHard = "hard"
)

var (
	reTimestamp = regexp.MustCompile(`^([0-9]+:)?[0-5]?[0-9]:[0-5][0-9](\.[0-9]+)?$`)
	reRatio     = regexp.MustCompile(`^[1-9][0-9]*:[1-9][0-9]*$`)
)

func validPosition(pos string) bool {
	switch pos {
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter:
		return true
	}
	return false
}

// Quality re-encodes to one of the configured quality presets (e.g. "480p")
type Quality struct {
	Name string `json:"name"`
}

// Compress re-encodes with a bitrate derived from a target file size
type Compress struct {
	TargetMB int `json:"target_mb"`
}

// Trim cuts the source between two timestamps without re-encoding
type Trim struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Merge concatenates the source with further parts
type Merge struct {
	Parts []SourceRef `json:"parts"`
}

// TextWatermark draws text on the video
type TextWatermark struct {
	Text     string `json:"text"`
	Position string `json:"position"`
}

// LogoWatermark overlays an image on the video
type LogoWatermark struct {
	Logo     SourceRef `json:"logo"`
	Position string    `json:"position"`
}

// AddSubtitle muxes (soft) or burns in (hard) a subtitle file
type AddSubtitle struct {
	Subtitle SourceRef `json:"subtitle"`
	Mode     string    `json:"mode"`
}

// RemoveSubtitle drops all subtitle streams
type RemoveSubtitle struct{}

// ExtractAudio copies the audio stream out of the container
type ExtractAudio struct{}

// RemoveAudio drops the audio streams
type RemoveAudio struct{}

// AddAudio replaces the audio track with another file
type AddAudio struct {
	Audio SourceRef `json:"audio"`
}

// ExtractThumbnail grabs a single frame
type ExtractThumbnail struct {
	At string `json:"at"`
}

// ChangeAspect rewrites the display aspect ratio
type ChangeAspect struct {
	Ratio string `json:"ratio"`
}

func (Quality) Kind() string          { return "quality" }
func (Compress) Kind() string         { return "compress" }
func (Trim) Kind() string             { return "trim" }
func (Merge) Kind() string            { return "merge" }
func (TextWatermark) Kind() string    { return "watermark_text" }
func (LogoWatermark) Kind() string    { return "watermark_logo" }
func (AddSubtitle) Kind() string      { return "add_subtitle" }
func (RemoveSubtitle) Kind() string   { return "remove_subtitle" }
func (ExtractAudio) Kind() string     { return "extract_audio" }
func (RemoveAudio) Kind() string      { return "remove_audio" }
func (AddAudio) Kind() string         { return "add_audio" }
func (ExtractThumbnail) Kind() string { return "extract_thumbnail" }
func (ChangeAspect) Kind() string     { return "change_aspect" }

func (Quality) operation()          {}
func (Compress) operation()         {}
func (Trim) operation()             {}
func (Merge) operation()            {}
func (TextWatermark) operation()    {}
func (LogoWatermark) operation()    {}
func (AddSubtitle) operation()      {}
func (RemoveSubtitle) operation()   {}
func (ExtractAudio) operation()     {}
func (RemoveAudio) operation()      {}
func (AddAudio) operation()         {}
func (ExtractThumbnail) operation() {}
func (ChangeAspect) operation()     {}

func (o Quality) Validate() error {
	if !strings.HasSuffix(o.Name, "p") || len(o.Name) < 2 {
		return fmt.Errorf("%w: quality %q", ErrInvalidOperation, o.Name)
	}
	return nil
}

func (o Compress) Validate() error {
	if o.TargetMB <= 0 {
		return fmt.Errorf("%w: target size must be positive", ErrInvalidOperation)
	}
	return nil
}

func (o Trim) Validate() error {
	if !reTimestamp.MatchString(o.Start) || !reTimestamp.MatchString(o.End) {
		return fmt.Errorf("%w: trim range %q - %q", ErrInvalidOperation, o.Start, o.End)
	}
	return nil
}

func (o Merge) Validate() error {
	if len(o.Parts) == 0 {
		return fmt.Errorf("%w: merge needs at least one more part", ErrInvalidOperation)
	}
	for _, p := range o.Parts {
		if p.IsZero() {
			return fmt.Errorf("%w: empty merge part", ErrInvalidOperation)
		}
	}
	return nil
}

func (o TextWatermark) Validate() error {
	if strings.TrimSpace(o.Text) == "" {
		return fmt.Errorf("%w: empty watermark text", ErrInvalidOperation)
	}
	if !validPosition(o.Position) {
		return fmt.Errorf("%w: position %q", ErrInvalidOperation, o.Position)
	}
	return nil
}

func (o LogoWatermark) Validate() error {
	if o.Logo.IsZero() {
		return fmt.Errorf("%w: missing logo", ErrInvalidOperation)
	}
	if !validPosition(o.Position) {
		return fmt.Errorf("%w: position %q", ErrInvalidOperation, o.Position)
	}
	return nil
}

func (o AddSubtitle) Validate() error {
	if o.Subtitle.IsZero() {
		return fmt.Errorf("%w: missing subtitle file", ErrInvalidOperation)
	}
	if o.Mode != SubtitleSoft && o.Mode != SubtitleHard {
		return fmt.Errorf("%w: subtitle mode %q", ErrInvalidOperation, o.Mode)
	}
	return nil
}

func (RemoveSubtitle) Validate() error { return nil }
func (ExtractAudio) Validate() error   { return nil }
func (RemoveAudio) Validate() error    { return nil }

func (o AddAudio) Validate() error {
	if o.Audio.IsZero() {
		return fmt.Errorf("%w: missing audio file", ErrInvalidOperation)
	}
	return nil
}

func (o ExtractThumbnail) Validate() error {
	if !reTimestamp.MatchString(o.At) {
		return fmt.Errorf("%w: timestamp %q", ErrInvalidOperation, o.At)
	}
	return nil
}

func (o ChangeAspect) Validate() error {
	if !reRatio.MatchString(o.Ratio) {
		return fmt.Errorf("%w: aspect ratio %q", ErrInvalidOperation, o.Ratio)
	}
	return nil
}

// ExtraInputs lists the sources an operation needs besides the primary one
func ExtraInputs(op Operation) []SourceRef {
	switch o := op.(type) {
	case Merge:
		return o.Parts
	case LogoWatermark:
		return []SourceRef{o.Logo}
	case AddSubtitle:
		return []SourceRef{o.Subtitle}
	case AddAudio:
		return []SourceRef{o.Audio}
	}
	return nil
}

// OutputExt is the file extension of the artifact an operation produces
func OutputExt(op Operation) string {
	switch op.(type) {
	case ExtractAudio:
		return ".m4a"
	case ExtractThumbnail:
		return ".jpg"
	}
	return ".mp4"
}

// Describe is a short human readable summary, e.g. "quality 720p"
func Describe(op Operation) string {
	switch o := op.(type) {
	case nil:
		return "unknown"
	case Quality:
		return "quality " + strings.ToUpper(o.Name)
	case Compress:
		return fmt.Sprintf("compress to %d MB", o.TargetMB)
	case Trim:
		return fmt.Sprintf("trim %s - %s", o.Start, o.End)
	case Merge:
		return fmt.Sprintf("merge %d files", len(o.Parts)+1)
	case ChangeAspect:
		return "aspect " + o.Ratio
	case ExtractThumbnail:
		return "thumbnail at " + o.At
	case AddSubtitle:
		return o.Mode + " subtitle"
	}
	return strings.ReplaceAll(op.Kind(), "_", " ")
}
