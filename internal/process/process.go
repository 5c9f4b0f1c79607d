// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列
//
// Package process runs an external command to completion while streaming its
// diagnostic output through a Parser.

package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"
)

// DefaultKillDelay is how long an interrupted process gets before it is killed
const DefaultKillDelay = 5 * time.Second

// TimeSink receives the media position (seconds) each time the parser finds one
type TimeSink func(seconds float64)

// Runner launches one command at a time
type Runner interface {
	Run(ctx context.Context, args []string, sink TimeSink) (ExitOutcome, error)
	Status() Status
}

// Config for a runner
type Config struct {
	Binary string
	// Env replaces the environment of the child. nil inherits ours.
	Env       []string
	KillDelay time.Duration
	// NewParser creates the parser for one run
	NewParser func() Parser
	Sampler   Sampler
	Logger    Logger
}

// ExitOutcome describes how a run ended
type ExitOutcome struct {
	Code     int
	Killed   bool
	Tail     []string
	Duration time.Duration
}

// Success reports a clean exit
func (o ExitOutcome) Success() bool {
	return o.Code == 0 && !o.Killed
}

// LastLine is the last captured diagnostic line, if any
func (o ExitOutcome) LastLine() string {
	if len(o.Tail) == 0 {
		return ""
	}
	return o.Tail[len(o.Tail)-1]
}

// Status of the runner
type Status struct {
	Running  bool
	Pid      int
	Args     []string
	Duration time.Duration
	Position float64
	CPU      float64
	Memory   uint64
	// Stats of the current run, or of the last one when idle
	Stats Stats
}

// Logger interface
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

type runner struct {
	binary    string
	env       []string
	killDelay time.Duration
	newParser func() Parser
	sampler   Sampler
	logger    Logger

	state struct {
		running  bool
		pid      int
		args     []string
		started  time.Time
		position float64
		parser   Parser
		lock     sync.Mutex
	}
}

// New creates a runner
func New(config Config) (Runner, error) {
	r := &runner{
		binary:    config.Binary,
		env:       config.Env,
		killDelay: config.KillDelay,
		newParser: config.NewParser,
		sampler:   config.Sampler,
		logger:    config.Logger,
	}

	if len(r.binary) == 0 {
		return nil, fmt.Errorf("no valid binary given")
	}
	if r.killDelay <= 0 {
		r.killDelay = DefaultKillDelay
	}
	if r.newParser == nil {
		r.newParser = func() Parser { return &nullParser{} }
	}
	if r.sampler == nil {
		r.sampler = NewNullSampler()
	}
	if r.logger == nil {
		r.logger = &nopLogger{}
	}

	return r, nil
}

// Run starts the command and blocks until it exits. Diagnostic output is
// read on its own goroutine and fully drained before the exit status is
// collected, so a chatty child can never block on a full pipe. Cancelling
// ctx interrupts the child and kills it after the kill delay. The returned
// error is only set when the command could not be started.
func (r *runner) Run(ctx context.Context, args []string, sink TimeSink) (ExitOutcome, error) {
	parser := r.newParser()
	parser.ResetStats()
	parser.ResetLog()

	cmd := exec.Command(r.binary, args...)
	if r.env != nil {
		cmd.Env = r.env
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ExitOutcome{Code: -1}, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return ExitOutcome{Code: -1}, fmt.Errorf("start %s: %w", r.binary, err)
	}

	started := time.Now()
	r.begin(cmd.Process.Pid, args, started, parser)
	defer r.end()

	if err := r.sampler.Start(cmd.Process.Pid); err != nil {
		r.logger.Debug("sampler for pid %d: %v", cmd.Process.Pid, err)
	}
	defer r.sampler.Stop()

	r.logger.Debug("started %s (pid %d) %v", r.binary, cmd.Process.Pid, args)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		r.reader(stderr, parser, sink)
	}()

	exited := make(chan struct{})
	var interrupted bool
	var killTimer *time.Timer
	var lock sync.Mutex
	go func() {
		select {
		case <-ctx.Done():
			lock.Lock()
			interrupted = true
			killTimer = r.interrupt(cmd)
			lock.Unlock()
		case <-exited:
		}
	}()

	<-drained
	waitErr := cmd.Wait()
	close(exited)

	lock.Lock()
	if killTimer != nil {
		killTimer.Stop()
	}
	killed := interrupted
	lock.Unlock()

	outcome := ExitOutcome{
		Killed:   killed,
		Duration: time.Since(started),
	}
	for _, line := range parser.Log() {
		outcome.Tail = append(outcome.Tail, line.Data)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				outcome.Killed = true
				outcome.Code = -1
			} else {
				outcome.Code = exitErr.ExitCode()
			}
		} else {
			outcome.Killed = true
			outcome.Code = -1
		}
	}

	r.logger.Debug("%s exited with code %d after %s (killed=%v)", r.binary, outcome.Code, outcome.Duration, outcome.Killed)
	return outcome, nil
}

func (r *runner) interrupt(cmd *exec.Cmd) *time.Timer {
	if runtime.GOOS == "windows" {
		cmd.Process.Kill()
		return nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
		return nil
	}
	return time.AfterFunc(r.killDelay, func() {
		cmd.Process.Kill()
	})
}

func (r *runner) reader(stream io.Reader, parser Parser, sink TimeSink) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLine)

	for scanner.Scan() {
		seconds, ok := parser.Parse(scanner.Text())
		if !ok {
			continue
		}
		r.state.lock.Lock()
		r.state.position = seconds
		r.state.lock.Unlock()
		if sink != nil {
			sink(seconds)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Error("reading %s output: %v", r.binary, err)
		// keep draining so the child never blocks on a full pipe
		io.Copy(io.Discard, stream)
	}
}

func (r *runner) begin(pid int, args []string, started time.Time, parser Parser) {
	r.state.lock.Lock()
	defer r.state.lock.Unlock()
	r.state.running = true
	r.state.pid = pid
	r.state.args = args
	r.state.started = started
	r.state.position = 0
	r.state.parser = parser
}

func (r *runner) end() {
	r.state.lock.Lock()
	defer r.state.lock.Unlock()
	r.state.running = false
	r.state.pid = 0
}

func (r *runner) Status() Status {
	cpu, memory := r.sampler.Current()

	r.state.lock.Lock()
	parser := r.state.parser
	r.state.lock.Unlock()

	var stats Stats
	if parser != nil {
		stats = parser.Stats()
	}

	r.state.lock.Lock()
	defer r.state.lock.Unlock()

	s := Status{
		Running:  r.state.running,
		Pid:      r.state.pid,
		Args:     r.state.args,
		Position: r.state.position,
		CPU:      cpu,
		Memory:   memory,
		Stats:    stats,
	}
	if r.state.running {
		s.Duration = time.Since(r.state.started)
	}
	return s
}

// scanLine splits on \n and \r; ffmpeg rewrites its progress line with \r.
func scanLine(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) {
		r, w := utf8.DecodeRune(data[start:])
		if r != '\n' && r != '\r' {
			break
		}
		start += w
	}

	for i := start; i < len(data); {
		r, w := utf8.DecodeRune(data[i:])
		if r == '\n' || r == '\r' {
			return i + w, data[start:i], nil
		}
		i += w
	}

	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

type nullParser struct{}

func (p *nullParser) Parse(line string) (float64, bool) { return 0, false }
func (p *nullParser) ResetStats()                       {}
func (p *nullParser) ResetLog()                         {}
func (p *nullParser) Log() []Line                       { return nil }
func (p *nullParser) Stats() Stats                      { return Stats{} }

type nopLogger struct{}

func (l *nopLogger) Info(format string, args ...interface{})  {}
func (l *nopLogger) Error(format string, args ...interface{}) {}
func (l *nopLogger) Debug(format string, args ...interface{}) {}
