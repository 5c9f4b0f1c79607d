// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ZSC714725/encodequeue/internal/ffmpeg"
	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/store"
)

// SettingsSource provides the encoder parameters of the next job
type SettingsSource interface {
	EncoderSettings(ctx context.Context) (store.EncoderSettings, error)
}

// FFmpegEncoder runs jobs through ffmpeg with the stored encoder settings
type FFmpegEncoder struct {
	FFmpeg    ffmpeg.FFmpeg
	Settings  SettingsSource
	Qualities map[string]ffmpeg.QualityPreset
}

func (e *FFmpegEncoder) Encode(ctx context.Context, spec job.Spec, inputs []string, output string, progress ProgressFunc) error {
	settings, err := e.settings(ctx)
	if err != nil {
		return job.Internal(job.PhaseTranscode, err)
	}

	req := ffmpeg.Request{
		Operation: spec.Operation,
		Inputs:    inputs,
		Output:    output,
		WorkDir:   filepath.Dir(output),
		Settings:  settings,
	}

	var fn ffmpeg.ProgressFunc
	if progress != nil {
		fn = ffmpeg.ProgressFunc(progress)
	}
	return e.FFmpeg.Encode(ctx, req, fn)
}

func (e *FFmpegEncoder) settings(ctx context.Context) (ffmpeg.Settings, error) {
	settings := ffmpeg.DefaultSettings()
	if len(e.Qualities) != 0 {
		settings.Qualities = e.Qualities
	}
	if e.Settings == nil {
		return settings, nil
	}

	stored, err := e.Settings.EncoderSettings(ctx)
	if err != nil {
		return ffmpeg.Settings{}, fmt.Errorf("encoder settings: %w", err)
	}
	if stored.Codec != "" {
		settings.Codec = stored.Codec
	}
	if stored.Preset != "" {
		settings.Preset = stored.Preset
	}
	if stored.CRF > 0 {
		settings.CRF = stored.CRF
	}
	if stored.AudioBitrate != "" {
		settings.AudioBitrate = stored.AudioBitrate
	}
	return settings, nil
}
