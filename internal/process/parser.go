// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package process

import "time"

// Parser parses process output (e.g. FFmpeg stderr). Parse returns the
// media position in seconds when the line carried one.
type Parser interface {
	Parse(line string) (float64, bool)
	ResetStats()
	ResetLog()
	Log() []Line
	Stats() Stats
}

// Stats are the counters ffmpeg prints on its progress line
type Stats struct {
	Frame     uint64  `json:"frame"`
	FPS       float64 `json:"fps"`
	Size      uint64  `json:"size_bytes"`
	Time      float64 `json:"time_seconds"`
	Speed     float64 `json:"speed"`
	Quantizer float64 `json:"q"`
}

// Line is a timestamped log line
type Line struct {
	Timestamp time.Time
	Data      string
}
