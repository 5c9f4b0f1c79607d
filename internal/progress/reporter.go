// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列
//
// Package progress turns raw progress samples into rate limited status
// snapshots.

package progress

import (
	"time"
)

// DefaultInterval is the minimum wall time between two renders
const DefaultInterval = 3 * time.Second

// Unit of the samples fed to a Reporter
type Unit int

const (
	Bytes Unit = iota
	Seconds
)

// Config for a Reporter
type Config struct {
	Interval time.Duration
	Unit     Unit
	// CapBelowFinal keeps the percentage at 99 or lower until Final is called
	CapBelowFinal bool
	Clock         func() time.Time
}

// Status is a rendered snapshot
type Status struct {
	Label      string
	Unit       Unit
	Current    float64
	Total      float64
	Percentage float64
	// Speed is units per second: bytes/s, or media seconds per wall second
	Speed   float64
	ETA     time.Duration
	Elapsed time.Duration
	Final   bool
}

// ETAKnown is false while speed is still zero
func (s Status) ETAKnown() bool {
	return s.Speed > 0
}

// Reporter throttles samples of one job phase. It is not safe for
// concurrent use; the worker owns one per phase.
type Reporter struct {
	interval time.Duration
	unit     Unit
	capped   bool
	now      func() time.Time

	last     time.Time
	rendered bool
	lastPct  float64
	terminal bool
	finished bool
}

// NewReporter creates a reporter
func NewReporter(config Config) *Reporter {
	r := &Reporter{
		interval: config.Interval,
		unit:     config.Unit,
		capped:   config.CapBelowFinal,
		now:      config.Clock,
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Sample returns a status to render, or false when the sample is throttled.
// A sample with current == total is always rendered, once.
func (r *Reporter) Sample(current, total float64, startedAt time.Time, label string) (Status, bool) {
	if total <= 0 || r.finished {
		return Status{}, false
	}

	now := r.now()
	terminal := current >= total && !r.terminal

	ref := startedAt
	if r.rendered {
		ref = r.last
	}
	if !terminal && now.Sub(ref) < r.interval {
		return Status{}, false
	}

	s := r.compute(current, total, startedAt, now, label)
	if terminal {
		r.terminal = true
		if !r.capped {
			s.Final = true
			r.finished = true
		}
	}
	r.last = now
	r.rendered = true
	r.lastPct = s.Percentage
	return s, true
}

// Final renders the terminal 100% status regardless of throttling
func (r *Reporter) Final(total float64, startedAt time.Time, label string) Status {
	now := r.now()
	s := r.compute(total, total, startedAt, now, label)
	s.Percentage = 100
	s.Final = true
	r.finished = true
	r.last = now
	r.rendered = true
	r.lastPct = 100
	return s
}

func (r *Reporter) compute(current, total float64, startedAt, now time.Time, label string) Status {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	s := Status{
		Label:      label,
		Unit:       r.unit,
		Current:    current,
		Total:      total,
		Percentage: Percentage(current, total, r.capped),
		Elapsed:    elapsed,
	}
	if s.Percentage < r.lastPct {
		s.Percentage = r.lastPct
	}

	s.Speed = Speed(current, elapsed)
	s.ETA = ETA(current, total, s.Speed)
	return s
}

// Percentage is 100*current/total clamped to [0,100], or [0,99] when capped
func Percentage(current, total float64, capped bool) float64 {
	if total <= 0 {
		return 0
	}
	p := 100 * current / total
	upper := 100.0
	if capped {
		upper = 99
	}
	if p < 0 {
		return 0
	}
	if p > upper {
		return upper
	}
	return p
}

// Speed is current/elapsed, 0 when no time elapsed
func Speed(current float64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return current / secs
}

// ETA is (total-current)/speed, 0 when speed is 0
func ETA(current, total, speed float64) time.Duration {
	if speed <= 0 {
		return 0
	}
	remaining := total - current
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining / speed * float64(time.Second))
}
