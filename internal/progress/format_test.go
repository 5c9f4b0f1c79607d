// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package progress

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHumanBytes(t *testing.T) {
	cases := map[float64]string{
		0:               "0 B",
		512:             "512 B",
		1024:            "1024 B",
		1536:            "1.5 KB",
		1_000_000:       "976.56 KB",
		5 * 1024 * 1024: "5 MB",
		3 << 30:         "3 GB",
	}
	for in, want := range cases {
		assert.Equal(t, want, HumanBytes(in), "%v", in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "1m 5s", FormatDuration(65*time.Second))
	assert.Equal(t, "2h 0m 1s", FormatDuration(2*time.Hour+time.Second))
	assert.Equal(t, "1d 1h 0m 0s", FormatDuration(25*time.Hour))
}

func TestBar(t *testing.T) {
	assert.Equal(t, "□□□□□□□□□□", Bar(0))
	assert.Equal(t, "●●●●●□□□□□", Bar(55))
	assert.Equal(t, "●●●●●●●●●●", Bar(100))
	assert.Equal(t, "●●●●●●●●●●", Bar(250))
}

func TestStatusText(t *testing.T) {
	s := Status{
		Label:      "1. Downloading",
		Unit:       Bytes,
		Current:    512 * 1024,
		Total:      1024 * 1024,
		Percentage: 50,
		Speed:      1024,
		ETA:        8 * time.Minute,
		Elapsed:    8 * time.Minute,
	}
	text := s.Text("movie.mp4")
	assert.True(t, strings.HasPrefix(text, "1. Downloading\n\nmovie.mp4"))
	assert.Contains(t, text, "●●●●●□□□□□")
	assert.Contains(t, text, "50.0%")
	assert.Contains(t, text, "Speed: 1024 B/s")
	assert.Contains(t, text, "Size: 512 KB / 1024 KB")
	assert.Contains(t, text, "ETA: 8m 0s")

	s.Unit = Seconds
	s.Speed = 2
	assert.Contains(t, s.Text(""), "Speed: 2.00x")
}
