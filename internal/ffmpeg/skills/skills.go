// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Codec represents a codec with encoders and decoders
type Codec struct {
	Id       string   `json:"id"`
	Name     string   `json:"name"`
	Encoders []string `json:"encoders"`
	Decoders []string `json:"decoders"`
}

// Filter represents a supported filter
type Filter struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// Library represents a linked av library
type Library struct {
	Name     string `json:"name"`
	Compiled string `json:"compiled"`
	Linked   string `json:"linked"`
}

// Info about the binary
type Info struct {
	Version       string    `json:"version"`
	Compiler      string    `json:"compiler"`
	Configuration string    `json:"configuration"`
	Libraries     []Library `json:"libraries"`
}

// Codecs by media type
type Codecs struct {
	Audio    []Codec `json:"audio"`
	Video    []Codec `json:"video"`
	Subtitle []Codec `json:"subtitle"`
}

// Skills are the detected capabilities of FFmpeg
type Skills struct {
	FFmpeg  Info     `json:"ffmpeg"`
	Filters []Filter `json:"filters"`
	Codecs  Codecs   `json:"codecs"`
}

// Filters every operation depends on
var RequiredFilters = []string{"scale", "drawtext", "overlay", "subtitles"}

// New returns all skills that FFmpeg provides
func New(binary string) (Skills, error) {
	c := Skills{}

	ff, err := getVersion(binary)
	if ff.Version == "" || err != nil {
		if err != nil {
			return Skills{}, fmt.Errorf("can't parse ffmpeg version: %w", err)
		}
		return Skills{}, fmt.Errorf("can't parse ffmpeg version")
	}
	c.FFmpeg = ff
	c.Filters = parseFilters(output(binary, "-filters"))
	c.Codecs = parseCodecs(output(binary, "-codecs"))

	return c, nil
}

// HasEncoder reports whether any codec lists name as an encoder
func (s Skills) HasEncoder(name string) bool {
	for _, list := range [][]Codec{s.Codecs.Video, s.Codecs.Audio, s.Codecs.Subtitle} {
		for _, c := range list {
			for _, e := range c.Encoders {
				if e == name {
					return true
				}
			}
		}
	}
	return false
}

// HasFilter reports whether the filter is compiled in
func (s Skills) HasFilter(id string) bool {
	for _, f := range s.Filters {
		if f.Id == id {
			return true
		}
	}
	return false
}

// MissingFilters returns the required filters the binary lacks
func (s Skills) MissingFilters() []string {
	var missing []string
	for _, id := range RequiredFilters {
		if !s.HasFilter(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

func output(binary string, flag string) []byte {
	cmd := exec.Command(binary, "-hide_banner", flag)
	cmd.Env = []string{}
	stdout, _ := cmd.Output()
	return stdout
}

func getVersion(binary string) (Info, error) {
	cmd := exec.Command(binary, "-version")
	cmd.Env = []string{}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Info{}, err
	}
	return parseVersion(out), nil
}

var (
	reVersion       = regexp.MustCompile(`^ffmpeg version n?([0-9]+\.[0-9]+(\.[0-9]+)?)`)
	reCompiler      = regexp.MustCompile(`(?m)^\s*built with (.*)$`)
	reConfiguration = regexp.MustCompile(`(?m)^\s*configuration: (.*)$`)
	reLibrary       = regexp.MustCompile(`(?m)^\s*(lib(?:[a-z]+))\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+) /\s+([0-9]+\.\s*[0-9]+\.\s*[0-9]+)`)
	reFilter        = regexp.MustCompile(`^\s[TSC.]{3} ([0-9A-Za-z_]+)\s+(?:\S+)\s+(.*)?$`)
	reCodec         = regexp.MustCompile(`^\s([D.])([E.])([VAS]).{3} ([0-9A-Za-z_]+)\s+(.*?)(?:\(decoders:([^\)]+)\))?\s?(?:\(encoders:([^\)]+)\))?$`)
)

func parseVersion(data []byte) Info {
	f := Info{}
	if m := reVersion.FindSubmatch(data); m != nil {
		f.Version = string(m[1])
		if len(m[2]) == 0 {
			f.Version += ".0"
		}
	}
	if m := reCompiler.FindSubmatch(data); m != nil {
		f.Compiler = string(m[1])
	}
	if m := reConfiguration.FindSubmatch(data); m != nil {
		f.Configuration = string(m[1])
	}
	for _, m := range reLibrary.FindAllSubmatch(data, -1) {
		f.Libraries = append(f.Libraries, Library{
			Name:     string(m[1]),
			Compiled: string(m[2]),
			Linked:   string(m[3]),
		})
	}
	return f
}

func parseFilters(data []byte) []Filter {
	var filters []Filter
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if m := reFilter.FindStringSubmatch(scanner.Text()); m != nil {
			filters = append(filters, Filter{Id: m[1], Name: strings.TrimSpace(m[2])})
		}
	}
	return filters
}

func parseCodecs(data []byte) Codecs {
	codecs := Codecs{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		m := reCodec.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		c := Codec{Id: m[4], Name: strings.TrimSpace(m[5])}
		if m[1] == "D" {
			if len(m[6]) == 0 {
				c.Decoders = []string{m[4]}
			} else {
				c.Decoders = strings.Split(strings.TrimSpace(m[6]), " ")
			}
		}
		if m[2] == "E" {
			if len(m[7]) == 0 {
				c.Encoders = []string{m[4]}
			} else {
				c.Encoders = strings.Split(strings.TrimSpace(m[7]), " ")
			}
		}
		switch m[3] {
		case "V":
			codecs.Video = append(codecs.Video, c)
		case "A":
			codecs.Audio = append(codecs.Audio, c)
		case "S":
			codecs.Subtitle = append(codecs.Subtitle, c)
		}
	}
	return codecs
}
