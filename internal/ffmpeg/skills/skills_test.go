// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package skills

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	data := []byte(`ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers
built with gcc 13 (GCC)
configuration: --enable-gpl --enable-libx264
libavutil      58. 29.100 / 58. 29.100
libavcodec     60. 31.102 / 60. 31.102
`)
	info := parseVersion(data)
	require.Equal(t, "6.1.1", info.Version)
	require.Equal(t, "gcc 13 (GCC)", info.Compiler)
	require.Equal(t, "--enable-gpl --enable-libx264", info.Configuration)
	require.Len(t, info.Libraries, 2)
	require.Equal(t, "libavcodec", info.Libraries[1].Name)

	info = parseVersion([]byte("ffmpeg version 7.0 Copyright"))
	require.Equal(t, "7.0.0", info.Version)
}

func TestParseCodecs(t *testing.T) {
	data := []byte(` DEV.LS h264                 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (decoders: h264 h264_v4l2m2m) (encoders: libx264 libx264rgb)
 DEA.L. aac                  AAC (Advanced Audio Coding) (decoders: aac aac_fixed)
 DES... mov_text             MOV text
 D.V.L. vp6                  On2 VP6
`)
	codecs := parseCodecs(data)
	require.Len(t, codecs.Video, 2)
	require.Len(t, codecs.Audio, 1)
	require.Len(t, codecs.Subtitle, 1)
	require.Equal(t, []string{"libx264", "libx264rgb"}, codecs.Video[0].Encoders)
	require.Equal(t, []string{"aac"}, codecs.Audio[0].Encoders)
	require.Nil(t, codecs.Video[1].Encoders)

	s := Skills{Codecs: codecs}
	require.True(t, s.HasEncoder("libx264"))
	require.True(t, s.HasEncoder("mov_text"))
	require.False(t, s.HasEncoder("libx265"))
}

func TestParseFilters(t *testing.T) {
	data := []byte(` TSC scale             V->V       Scale the input video size and/or convert the image format.
 T.C drawtext          V->V       Draw text on top of video frames using libfreetype library.
 ... overlay           VV->V      Overlay a video source on top of the input.
`)
	s := Skills{Filters: parseFilters(data)}
	require.Len(t, s.Filters, 3)
	require.Equal(t, "overlay", s.Filters[2].Id)
	require.True(t, s.HasFilter("drawtext"))
	require.Equal(t, []string{"subtitles"}, s.MissingFilters())
}
