// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ZSC714725/encodequeue/internal/ffmpeg/parse"
	"github.com/ZSC714725/encodequeue/internal/ffmpeg/skills"
	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
	"github.com/ZSC714725/encodequeue/internal/process"
)

// ErrKilled is reported when the encoder was interrupted or killed
var ErrKilled = errors.New("encoder killed")

// ProgressFunc receives the encoded media position and the source
// duration, both in seconds. total is 0 when the duration is unknown.
type ProgressFunc func(current, total float64)

// FFmpeg manages the FFmpeg binaries
type FFmpeg interface {
	Encode(ctx context.Context, req Request, progress ProgressFunc) error
	Probe(ctx context.Context, path string) (Info, error)
	ValidateInput(address string) bool
	Status() process.Status
	Skills() skills.Skills
	ReloadSkills() error
}

// Config for FFmpeg
type Config struct {
	Binary         string
	ProbeBinary    string
	MaxLogLines    int
	ValidatorInput Validator
	Logger         logger.Logger
}

type ffmpeg struct {
	binary      string
	probeBinary string
	validatorIn Validator
	runner      process.Runner
	logger      logger.Logger
	probe       func(ctx context.Context, path string) (Info, error)

	skills     skills.Skills
	skillsLock sync.RWMutex
}

// New creates FFmpeg
func New(config Config) (FFmpeg, error) {
	binary, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg binary: %w", err)
	}
	probeBinary, err := exec.LookPath(config.ProbeBinary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffprobe binary: %w", err)
	}

	f := &ffmpeg{
		binary:      binary,
		probeBinary: probeBinary,
		logger:      config.Logger,
	}
	if f.logger == nil {
		f.logger = logger.Nop()
	}

	logLines := config.MaxLogLines
	if logLines <= 0 {
		logLines = 100
	}

	if config.ValidatorInput != nil {
		f.validatorIn = config.ValidatorInput
	} else {
		f.validatorIn, _ = NewValidator(nil, nil)
	}

	f.runner, err = process.New(process.Config{
		Binary:    f.binary,
		NewParser: func() process.Parser { return parse.New(parse.Config{LogLines: logLines}) },
		Sampler:   process.NewSysSampler(),
		Logger:    f.logger,
	})
	if err != nil {
		return nil, err
	}
	f.probe = func(ctx context.Context, path string) (Info, error) {
		return probe(ctx, f.probeBinary, path)
	}

	s, err := skills.New(f.binary)
	if err != nil {
		return nil, fmt.Errorf("invalid ffmpeg: %w", err)
	}
	f.skills = s

	return f, nil
}

// Encode probes the primary input, builds the argument list and runs ffmpeg
// to completion. Failures are classified as job errors: argument building
// problems are internal, everything the encoder itself reports is an
// encode error.
func (f *ffmpeg) Encode(ctx context.Context, req Request, progress ProgressFunc) error {
	if len(req.Inputs) == 0 {
		return job.Internal(job.PhaseTranscode, ErrMissingInput)
	}

	var duration float64
	if info, err := f.probe(ctx, req.Inputs[0]); err != nil {
		f.logger.Warn("probe %s: %v", req.Inputs[0], err)
	} else {
		duration = info.Duration()
	}

	args, err := BuildArgs(req, duration)
	if err != nil {
		if errors.Is(err, ErrUnsupportedOperation) || errors.Is(err, ErrMissingInput) {
			return job.Internal(job.PhaseTranscode, err)
		}
		return job.Encode(err)
	}

	if _, ok := req.Operation.(job.Merge); ok {
		if err := os.WriteFile(ConcatListPath(req), []byte(ConcatList(req.Inputs)), 0o644); err != nil {
			return job.Internal(job.PhaseTranscode, fmt.Errorf("write concat list: %w", err))
		}
	}

	var sink process.TimeSink
	if progress != nil && duration > 0 {
		sink = func(seconds float64) { progress(seconds, duration) }
	}

	start := time.Now()
	outcome, err := f.runner.Run(ctx, args, sink)
	if err != nil {
		return job.Encode(err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if outcome.Killed {
		return job.Encode(fmt.Errorf("%w after %s", ErrKilled, outcome.Duration.Round(time.Second)))
	}
	if outcome.Code != 0 {
		tail := outcome.Tail
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		f.logger.Error("ffmpeg exited with %d: %s", outcome.Code, strings.Join(tail, " | "))
		return job.Encode(fmt.Errorf("ffmpeg exit status %d: %s", outcome.Code, outcome.LastLine()))
	}

	f.logger.Debug("encoded %s in %s", req.Output, time.Since(start).Round(time.Millisecond))
	return nil
}

func (f *ffmpeg) Probe(ctx context.Context, path string) (Info, error) {
	return f.probe(ctx, path)
}

func (f *ffmpeg) ValidateInput(address string) bool {
	return f.validatorIn.IsValid(address)
}

func (f *ffmpeg) Status() process.Status {
	return f.runner.Status()
}

func (f *ffmpeg) Skills() skills.Skills {
	f.skillsLock.RLock()
	defer f.skillsLock.RUnlock()
	return f.skills
}

func (f *ffmpeg) ReloadSkills() error {
	s, err := skills.New(f.binary)
	if err != nil {
		return fmt.Errorf("reload skills: %w", err)
	}
	f.skillsLock.Lock()
	f.skills = s
	f.skillsLock.Unlock()
	return nil
}
