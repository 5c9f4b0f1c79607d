// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package ffmpeg

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrInputBlocked    = errors.New("input matches a block rule")
	ErrInputNotAllowed = errors.New("input matches no allow rule")
)

// Validator decides whether a local source path may be handed to ffmpeg
type Validator interface {
	IsValid(path string) bool
	Check(path string) error
}

type pathRules struct {
	allow []*regexp.Regexp
	block []*regexp.Regexp
}

// NewValidator compiles allow and block rules. Paths are cleaned before
// matching so "a/../b" cannot slip past a prefix rule. Blank rules are skipped.
func NewValidator(allow, block []string) (Validator, error) {
	var err error
	v := &pathRules{}
	if v.allow, err = compileRules("allow", allow); err != nil {
		return nil, err
	}
	if v.block, err = compileRules("block", block); err != nil {
		return nil, err
	}
	return v, nil
}

func compileRules(kind string, exps []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, exp := range exps {
		if exp = strings.TrimSpace(exp); exp == "" {
			continue
		}
		re, err := regexp.Compile(exp)
		if err != nil {
			return nil, fmt.Errorf("%s rule %q: %w", kind, exp, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (v *pathRules) Check(path string) error {
	path = filepath.Clean(path)
	for _, re := range v.block {
		if re.MatchString(path) {
			return fmt.Errorf("%w: %s", ErrInputBlocked, re)
		}
	}
	if len(v.allow) == 0 {
		return nil
	}
	for _, re := range v.allow {
		if re.MatchString(path) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInputNotAllowed, path)
}

func (v *pathRules) IsValid(path string) bool {
	return v.Check(path) == nil
}
