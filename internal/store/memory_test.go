// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newMemory(t *testing.T) (Store, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemory(Defaults{WatermarkText: "@encq", Clock: c.Now}), c
}

func TestUserSettingsDefaults(t *testing.T) {
	s, _ := newMemory(t)
	ctx := context.Background()

	settings, err := s.UserSettings(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "@encq", settings.WatermarkText)
	require.Equal(t, "bottom_right", settings.WatermarkPosition)
	require.Empty(t, settings.Thumbnail)

	settings.Thumbnail = "file-id"
	require.NoError(t, s.SaveUserSettings(ctx, 1, settings))

	settings, err = s.UserSettings(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "file-id", settings.Thumbnail)

	_, err = s.UserSettings(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidUser)
}

func TestEncoderSettings(t *testing.T) {
	s, _ := newMemory(t)
	ctx := context.Background()

	settings, err := s.EncoderSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, EncoderSettings{Codec: "libx264", Preset: "medium", CRF: 28, AudioBitrate: "128k"}, settings)

	settings.CRF = 60
	require.ErrorIs(t, s.SaveEncoderSettings(ctx, settings), ErrInvalidSettings)

	settings.CRF = 23
	settings.Codec = "libx265"
	require.NoError(t, s.SaveEncoderSettings(ctx, settings))

	got, err := s.EncoderSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, settings, got)
}

func TestPremiumExpires(t *testing.T) {
	s, c := newMemory(t)
	ctx := context.Background()

	p, err := s.AddPremium(ctx, 7, 0)
	require.NoError(t, err)
	require.Equal(t, c.now.AddDate(0, 0, 30), p.Expires)

	ok, err := s.IsPremium(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	c.now = c.now.AddDate(0, 0, 31)
	ok, err = s.IsPremium(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Premium)

	_, err = s.AddPremium(ctx, 8, 1)
	require.NoError(t, err)
	require.NoError(t, s.RemovePremium(ctx, 8))
	ok, _ = s.IsPremium(ctx, 8)
	require.False(t, ok)
}

func TestRecordEncodeAndStats(t *testing.T) {
	s, c := newMemory(t)
	ctx := context.Background()

	require.NoError(t, s.RecordEncode(ctx, EncodeRecord{UserID: 1, Operation: "quality", Size: 100, At: c.now.Add(-24 * time.Hour)}))
	require.NoError(t, s.RecordEncode(ctx, EncodeRecord{UserID: 1, Operation: "quality", Size: 200}))
	require.NoError(t, s.RecordEncode(ctx, EncodeRecord{UserID: 2, Operation: "compress", Size: 300}))
	require.ErrorIs(t, s.RecordEncode(ctx, EncodeRecord{}), ErrInvalidUser)

	n, err := s.TodayEncodes(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.TotalEncodes)
	require.EqualValues(t, 600, stats.TotalBytes)
	require.EqualValues(t, 2, stats.Users)
	require.Equal(t, map[string]int64{"quality": 2, "compress": 1}, stats.ByOperation)
}
