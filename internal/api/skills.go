// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package api

import (
	"github.com/ZSC714725/encodequeue/internal/ffmpeg/skills"
)

// SkillsResponse for API
type SkillsResponse struct {
	FFmpeg  skills.Info `json:"ffmpeg"`
	Filters []string    `json:"filters"`
	Missing []string    `json:"missing_filters"`

	Codecs struct {
		Audio    []SkillsCodec `json:"audio"`
		Video    []SkillsCodec `json:"video"`
		Subtitle []SkillsCodec `json:"subtitle"`
	} `json:"codecs"`
}

type SkillsCodec struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Encoders []string `json:"encoders"`
}

func skillsToAPI(s skills.Skills) SkillsResponse {
	resp := SkillsResponse{
		FFmpeg:  s.FFmpeg,
		Filters: make([]string, 0, len(s.Filters)),
		Missing: s.MissingFilters(),
	}
	for _, f := range s.Filters {
		resp.Filters = append(resp.Filters, f.Id)
	}

	// decoders only don't matter for encoding
	resp.Codecs.Audio = encoders(s.Codecs.Audio)
	resp.Codecs.Video = encoders(s.Codecs.Video)
	resp.Codecs.Subtitle = encoders(s.Codecs.Subtitle)

	return resp
}

func encoders(codecs []skills.Codec) []SkillsCodec {
	out := make([]SkillsCodec, 0, len(codecs))
	for _, c := range codecs {
		if len(c.Encoders) == 0 {
			continue
		}
		out = append(out, SkillsCodec{ID: c.Id, Name: c.Name, Encoders: c.Encoders})
	}
	return out
}
