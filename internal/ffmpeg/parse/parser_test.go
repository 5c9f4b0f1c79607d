// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package parse

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/encodequeue/internal/process"
)

func TestParseTimecode(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame=  120 fps= 30 q=28.0 size=   512kB time=00:00:05.00 bitrate= 838.9kbits/s speed=1.2x", 5, true},
		{"time=01:02:03.5", 3723.5, true},
		{"time=00:00:00.125", 0.125, true},
		{"size=N/A time=N/A bitrate=N/A speed=N/A", 0, false},
		{"Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'in.mp4':", 0, false},
		{"  Duration: 00:00:10.00, start: 0.000000, bitrate: 1205 kb/s", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseTimecode(c.line)
		assert.Equal(t, c.ok, ok, c.line)
		assert.InDelta(t, c.want, got, 1e-9, c.line)
	}
}

func TestParserStats(t *testing.T) {
	p := New(Config{LogLines: 10})

	_, ok := p.Parse("Stream mapping:")
	assert.False(t, ok)

	sec, ok := p.Parse("frame=  250 fps= 50 q=-1.0 size=    1024kB time=00:00:10.40 bitrate= 806.5kbits/s speed=2.08x")
	require.True(t, ok)
	assert.InDelta(t, 10.4, sec, 1e-9)

	prog := p.Stats()
	assert.Equal(t, uint64(250), prog.Frame)
	assert.InDelta(t, 50.0, prog.FPS, 1e-9)
	assert.Equal(t, uint64(1024*1024), prog.Size)
	assert.InDelta(t, 2.08, prog.Speed, 1e-9)
	assert.InDelta(t, -1.0, prog.Quantizer, 1e-9)

	sec, ok = p.Parse("out_time_us=12500000")
	require.True(t, ok)
	assert.InDelta(t, 12.5, sec, 1e-9)

	p.ResetStats()
	assert.Equal(t, process.Stats{}, p.Stats())
}

func TestParserLogRing(t *testing.T) {
	p := New(Config{LogLines: 3})
	for i := 0; i < 5; i++ {
		p.Parse(fmt.Sprintf("line %d", i))
	}

	lines := p.Log()
	require.Len(t, lines, 3)
	assert.Equal(t, "line 2", lines[0].Data)
	assert.Equal(t, "line 4", lines[2].Data)

	p.ResetLog()
	assert.Empty(t, p.Log())
}
