// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列
//
// Package store keeps user settings, encoder settings, premium membership
// and encode statistics.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/ZSC714725/encodequeue/internal/job"
)

var (
	ErrInvalidUser     = errors.New("invalid user id")
	ErrInvalidSettings = errors.New("invalid encoder settings")
)

// UserSettings are per submitter preferences applied at delivery
type UserSettings struct {
	Thumbnail         string `json:"thumbnail,omitempty"`
	WatermarkText     string `json:"watermark_text,omitempty"`
	WatermarkPosition string `json:"watermark_position,omitempty"`
	UploadAsDocument  bool   `json:"upload_as_document"`
}

// EncoderSettings are the bot wide encoder parameters an admin can tune
type EncoderSettings struct {
	Codec        string `json:"codec"`
	Preset       string `json:"preset"`
	CRF          int    `json:"crf"`
	AudioBitrate string `json:"audio_bitrate"`
}

// Validate checks ranges accepted by libx264/libx265
func (s EncoderSettings) Validate() error {
	if s.Codec == "" || s.Preset == "" || s.AudioBitrate == "" {
		return ErrInvalidSettings
	}
	if s.CRF < 0 || s.CRF > 51 {
		return ErrInvalidSettings
	}
	return nil
}

// Premium membership of a user
type Premium struct {
	UserID  int64     `json:"user_id"`
	Added   time.Time `json:"added"`
	Expires time.Time `json:"expires"`
}

// EncodeRecord is one successful job
type EncodeRecord struct {
	UserID    int64     `json:"user_id"`
	Operation string    `json:"operation"`
	Size      int64     `json:"size"`
	Duration  float64   `json:"duration"`
	At        time.Time `json:"at"`
}

// Stats summarizes the recorded encodes
type Stats struct {
	TotalEncodes int64            `json:"total_encodes"`
	TotalBytes   int64            `json:"total_bytes"`
	Users        int64            `json:"users"`
	Premium      int64            `json:"premium"`
	ByOperation  map[string]int64 `json:"by_operation"`
}

// Store is the storage collaborator
type Store interface {
	UserSettings(ctx context.Context, userID int64) (UserSettings, error)
	SaveUserSettings(ctx context.Context, userID int64, settings UserSettings) error

	EncoderSettings(ctx context.Context) (EncoderSettings, error)
	SaveEncoderSettings(ctx context.Context, settings EncoderSettings) error

	AddPremium(ctx context.Context, userID int64, days int) (Premium, error)
	RemovePremium(ctx context.Context, userID int64) error
	// IsPremium drops expired memberships as a side effect
	IsPremium(ctx context.Context, userID int64) (bool, error)

	RecordEncode(ctx context.Context, record EncodeRecord) error
	TodayEncodes(ctx context.Context, userID int64) (int64, error)
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Defaults for fields a fresh store has never seen
type Defaults struct {
	Encoder           EncoderSettings
	WatermarkText     string
	WatermarkPosition string
	Clock             func() time.Time
}

func (d Defaults) withFallbacks() Defaults {
	if d.Encoder.Codec == "" {
		d.Encoder.Codec = "libx264"
	}
	if d.Encoder.Preset == "" {
		d.Encoder.Preset = "medium"
	}
	if d.Encoder.CRF == 0 {
		d.Encoder.CRF = 28
	}
	if d.Encoder.AudioBitrate == "" {
		d.Encoder.AudioBitrate = "128k"
	}
	if d.WatermarkPosition == "" {
		d.WatermarkPosition = job.PositionBottomRight
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

func (d Defaults) user() UserSettings {
	return UserSettings{
		WatermarkText:     d.WatermarkText,
		WatermarkPosition: d.WatermarkPosition,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, t.Location())
}
