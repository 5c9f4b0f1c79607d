// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package progress

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const calculating = "Calculating…"

// HumanBytes formats a byte count with 1024 based units, e.g. "1.5 MB"
func HumanBytes(size float64) string {
	if size <= 0 {
		return "0 B"
	}
	units := []string{"", "K", "M", "G", "T"}
	n := 0
	for size > 1024 && n < len(units)-1 {
		size /= 1024
		n++
	}
	return strconv.FormatFloat(math.Round(size*100)/100, 'f', -1, 64) + " " + units[n] + "B"
}

// FormatDuration renders d as "1d 2h 3m 4s", dropping leading zero units
func FormatDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs <= 0 {
		return "0s"
	}
	days := secs / 86400
	hours := secs % 86400 / 3600
	minutes := secs % 3600 / 60
	secs %= 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, secs)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// Bar draws ten cells, one filled per 10%
func Bar(percentage float64) string {
	filled := int(percentage / 10)
	if filled < 0 {
		filled = 0
	}
	if filled > 10 {
		filled = 10
	}
	return strings.Repeat("●", filled) + strings.Repeat("□", 10-filled)
}

// SpeedString formats the throughput for the status unit
func (s Status) SpeedString() string {
	if s.Speed <= 0 {
		return calculating
	}
	if s.Unit == Seconds {
		return strconv.FormatFloat(s.Speed, 'f', 2, 64) + "x"
	}
	return HumanBytes(s.Speed) + "/s"
}

// ETAString formats the remaining time, "Calculating…" while speed is zero
func (s Status) ETAString() string {
	if !s.ETAKnown() {
		return calculating
	}
	return FormatDuration(s.ETA)
}

// Text renders the multi-line status message. name is the file being
// processed and may be empty.
func (s Status) Text(name string) string {
	var b strings.Builder
	b.WriteString(s.Label)
	b.WriteString("\n\n")
	if name != "" {
		b.WriteString(name)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "╭──「 %s 」── %.1f%%\n", Bar(s.Percentage), s.Percentage)
	fmt.Fprintf(&b, "├ Speed: %s\n", s.SpeedString())
	if s.Unit == Bytes {
		fmt.Fprintf(&b, "├ Size: %s / %s\n", HumanBytes(s.Current), HumanBytes(s.Total))
	} else {
		fmt.Fprintf(&b, "├ Position: %s / %s\n",
			FormatDuration(time.Duration(s.Current*float64(time.Second))),
			FormatDuration(time.Duration(s.Total*float64(time.Second))))
	}
	fmt.Fprintf(&b, "├ ETA: %s\n", s.ETAString())
	fmt.Fprintf(&b, "╰ Elapsed: %s", FormatDuration(s.Elapsed))
	return b.String()
}
