// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package parse

import (
	"container/ring"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/ZSC714725/encodequeue/internal/process"
)

var (
	reFrame     = regexp.MustCompile(`frame=\s*([0-9]+)`)
	reFPS       = regexp.MustCompile(`fps=\s*([0-9\.]+)`)
	reQuantizer = regexp.MustCompile(`q=\s*(-?[0-9\.]+)`)
	reSize      = regexp.MustCompile(`size=\s*([0-9]+)(?:kB|KiB)`)
	reTime      = regexp.MustCompile(`time=\s*([0-9]+):([0-9]{2}):([0-9]{2})\.([0-9]+)`) // 支持 .0 .00 .000 等
	reTimeUs    = regexp.MustCompile(`out_time_us=\s*([0-9]+)`)                          // -progress 输出
	reSpeed     = regexp.MustCompile(`speed=\s*([0-9\.]+)x`)
)

type parser struct {
	log      *ring.Ring
	logLines int

	stats process.Stats
	lock  sync.RWMutex
}

// Config for the parser
type Config struct {
	LogLines int
}

// New creates a parser for FFmpeg stderr
func New(config Config) process.Parser {
	p := &parser{
		logLines: config.LogLines,
	}
	if p.logLines <= 0 {
		p.logLines = 100
	}
	p.log = ring.New(p.logLines)
	return p
}

// ParseTimecode converts the HH:MM:SS.ff value of a "time=" field to
// seconds. ok is false when the line has no such field.
func ParseTimecode(line string) (float64, bool) {
	m := reTime.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	frac := 0.0
	if x, err := strconv.ParseUint(m[4], 10, 64); err == nil {
		div := 1.0
		for range m[4] {
			div *= 10
		}
		frac = float64(x) / div
	}
	return float64(h*3600+mm*60+s) + frac, true
}

func (p *parser) Parse(line string) (float64, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.log.Value = process.Line{Timestamp: time.Now(), Data: line}
	p.log = p.log.Next()

	if m := reFrame.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.stats.Frame = x
		}
	}
	if m := reFPS.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.stats.FPS = x
		}
	}
	if m := reQuantizer.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.stats.Quantizer = x
		}
	}
	if m := reSize.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.stats.Size = x * 1024
		}
	}
	if m := reSpeed.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.stats.Speed = x
		}
	}

	if t, ok := ParseTimecode(line); ok {
		p.stats.Time = t
		return t, true
	}
	if m := reTimeUs.FindStringSubmatch(line); m != nil {
		if x, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			p.stats.Time = float64(x) / 1000000.0
			return p.stats.Time, true
		}
	}
	return 0, false
}

func (p *parser) ResetStats() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.stats = process.Stats{}
}

func (p *parser) ResetLog() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.log = ring.New(p.logLines)
}

func (p *parser) Log() []process.Line {
	var out []process.Line
	p.lock.RLock()
	p.log.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(process.Line))
		}
	})
	p.lock.RUnlock()
	return out
}

func (p *parser) Stats() process.Stats {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.stats
}
