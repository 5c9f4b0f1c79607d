// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列
//
// Package worker is the single consumer of the job queue. Each job runs
// fetch, transcode and deliver in order; whatever happens, the submitter is
// released, temporary files are removed and exactly one result is emitted.

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
	"github.com/ZSC714725/encodequeue/internal/progress"
	"github.com/ZSC714725/encodequeue/internal/store"
)

var (
	ErrNoOutput   = errors.New("encoder produced no output")
	ErrMissingDep = errors.New("missing worker dependency")
)

// ProgressFunc receives samples of a running phase. Units depend on the
// phase: bytes for fetch and deliver, media seconds for transcode.
type ProgressFunc func(current, total float64)

// Queue is the part of the queue service the worker consumes
type Queue interface {
	Dequeue(ctx context.Context) (job.Spec, error)
	Release(submitterID int64, sequence uint64) bool
	Clear() (drained []job.Spec, active int)
}

// Fetcher resolves a source reference to a local file inside dir
type Fetcher interface {
	Fetch(ctx context.Context, ref job.SourceRef, dir string, progress ProgressFunc) (string, error)
}

// Encoder runs the operation of spec over the local inputs
type Encoder interface {
	Encode(ctx context.Context, spec job.Spec, inputs []string, output string, progress ProgressFunc) error
}

// Deliverer hands the artifact back to the submitter and returns a
// reference to the delivered result.
type Deliverer interface {
	Deliver(ctx context.Context, spec job.Spec, artifact string, progress ProgressFunc) (string, error)
}

// Stage of a phase update
type Stage string

const (
	StageStarted  Stage = "started"
	StageProgress Stage = "progress"
	StageFinished Stage = "finished"
)

// Update is one status change of a running job
type Update struct {
	Phase    job.Phase
	Stage    Stage
	Progress progress.Status
}

// StatusSink receives phase updates. Errors are logged and never fail the
// job.
type StatusSink interface {
	ReportStatus(ctx context.Context, spec job.Spec, update Update) error
}

// ResultSink receives the single terminal result of every job
type ResultSink interface {
	Complete(ctx context.Context, spec job.Spec, result job.Result)
}

// Recorder stores statistics of finished encodes
type Recorder interface {
	RecordEncode(ctx context.Context, record store.EncodeRecord) error
}

// Config for a worker
type Config struct {
	WorkDir  string
	Interval time.Duration
	Clock    func() time.Time
	Logger   logger.Logger
}

// Deps are the collaborators of a worker. Recorder is optional.
type Deps struct {
	Queue     Queue
	Fetcher   Fetcher
	Encoder   Encoder
	Deliverer Deliverer
	Status    StatusSink
	Results   ResultSink
	Recorder  Recorder
}

// Snapshot describes the job being executed
type Snapshot struct {
	Spec      job.Spec
	Phase     job.Phase
	StartedAt time.Time
	Progress  progress.Status
}

// Worker executes jobs one at a time
type Worker struct {
	workDir  string
	interval time.Duration
	now      func() time.Time
	logger   logger.Logger
	deps     Deps

	current struct {
		active   bool
		snapshot Snapshot
		cancel   context.CancelFunc
		lock     sync.Mutex
	}
}

// New creates a worker
func New(config Config, deps Deps) (*Worker, error) {
	if deps.Queue == nil || deps.Fetcher == nil || deps.Encoder == nil || deps.Deliverer == nil {
		return nil, ErrMissingDep
	}
	if deps.Status == nil || deps.Results == nil {
		return nil, ErrMissingDep
	}

	w := &Worker{
		workDir:  config.WorkDir,
		interval: config.Interval,
		now:      config.Clock,
		logger:   config.Logger,
		deps:     deps,
	}
	if w.workDir == "" {
		w.workDir = filepath.Join(os.TempDir(), "encodequeue")
	}
	if w.interval <= 0 {
		w.interval = progress.DefaultInterval
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.logger == nil {
		w.logger = logger.Nop()
	}

	if err := os.MkdirAll(w.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}

	return w, nil
}

// Run consumes the queue until ctx is done. A failing job never stops the
// loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started, work dir %s", w.workDir)
	for {
		spec, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return nil
			}
			w.logger.Error("dequeue: %v", err)
			continue
		}
		w.process(ctx, spec)
	}
}

// Current returns the running job, if any
func (w *Worker) Current() (Snapshot, bool) {
	w.current.lock.Lock()
	defer w.current.lock.Unlock()
	return w.current.snapshot, w.current.active
}

// CancelCurrent aborts the running job. The job ends as cancelled.
func (w *Worker) CancelCurrent() (job.Spec, bool) {
	w.current.lock.Lock()
	defer w.current.lock.Unlock()
	if !w.current.active {
		return job.Spec{}, false
	}
	w.current.cancel()
	return w.current.snapshot.Spec, true
}

// CancelSubmitter aborts the running job only if it belongs to submitterID
func (w *Worker) CancelSubmitter(submitterID int64) bool {
	w.current.lock.Lock()
	defer w.current.lock.Unlock()
	if !w.current.active || w.current.snapshot.Spec.SubmitterID != submitterID {
		return false
	}
	w.current.cancel()
	return true
}

// ClearQueue empties the queue and emits a cancelled result for every job
// that was still waiting. The running job is not touched.
func (w *Worker) ClearQueue(ctx context.Context) (pending, active int) {
	drained, active := w.deps.Queue.Clear()
	for _, spec := range drained {
		result := job.NewResult(spec, time.Time{})
		result.Cancel("removed from the queue", w.now())
		w.complete(ctx, spec, result, w.logger.With("job", spec.ID))
	}
	return len(drained), active
}

func (w *Worker) process(ctx context.Context, spec job.Spec) {
	jobCtx, cancel := context.WithCancel(ctx)
	started := w.now()
	result := job.NewResult(spec, started)
	log := w.logger.With("job", spec.ID).With("submitter", spec.SubmitterID)

	w.begin(spec, started, cancel)

	var (
		at  = job.PhaseFetch
		dir string
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in %s: %v\n%s", at, r, debug.Stack())
			result.Fail(job.Internal(at, fmt.Errorf("panic: %v", r)), at, w.now())
		}
		cancel()

		w.deps.Queue.Release(spec.SubmitterID, spec.Sequence)
		if dir != "" {
			if err := os.RemoveAll(dir); err != nil {
				log.Warn("cleanup %s: %v", dir, err)
			}
		}
		w.end()

		w.complete(context.WithoutCancel(ctx), spec, result, log)
	}()

	log.Info("started %s on %s", job.Describe(spec.Operation), spec.SourceName)

	dir = filepath.Join(w.workDir, ulid.Make().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		dir = ""
		result.Fail(job.Internal(at, err), at, w.now())
		return
	}

	inputs, err := w.fetch(jobCtx, spec, dir)
	if err != nil {
		result.Fail(err, at, w.now())
		log.Error("%s failed: %v", at, err)
		return
	}

	at = job.PhaseTranscode
	output, err := w.transcode(jobCtx, spec, inputs, dir)
	if err != nil {
		result.Fail(err, at, w.now())
		log.Error("%s failed: %v", at, err)
		return
	}

	at = job.PhaseDeliver
	ref, size, err := w.deliver(jobCtx, spec, output)
	if err != nil {
		result.Fail(err, at, w.now())
		log.Error("%s failed: %v", at, err)
		return
	}

	result.Succeed(ref, w.now())
	log.Info("finished in %s", result.Elapsed().Round(time.Millisecond))

	if w.deps.Recorder != nil {
		record := store.EncodeRecord{
			UserID:    spec.SubmitterID,
			Operation: result.Operation,
			Size:      size,
			Duration:  result.Elapsed().Seconds(),
			At:        result.FinishedAt,
		}
		if err := w.deps.Recorder.RecordEncode(context.WithoutCancel(ctx), record); err != nil {
			log.Warn("record stats: %v", err)
		}
	}
}

func (w *Worker) complete(ctx context.Context, spec job.Spec, result job.Result, log logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("result sink panic: %v", r)
		}
	}()
	w.deps.Results.Complete(ctx, spec, result)
}

func (w *Worker) fetch(ctx context.Context, spec job.Spec, dir string) ([]string, error) {
	refs := spec.Inputs()

	var total float64
	for i, ref := range refs {
		size := ref.Size
		if i == 0 && size <= 0 {
			size = spec.SourceSize
		}
		total += float64(size)
	}

	ph := w.newPhase(ctx, spec, job.PhaseFetch, progress.Bytes, false)
	ph.start()

	var inputs []string
	var base float64
	for i, ref := range refs {
		if i == 0 && ref.Name == "" {
			ref.Name = spec.SourceName
		}
		last := i == len(refs)-1
		path, err := w.deps.Fetcher.Fetch(ctx, ref, dir, func(current, size float64) {
			t := total
			if t < base+size {
				t = base + size
			}
			// sizes of extra inputs are often unknown; only the last input
			// may complete the phase
			if !last && base+current >= t {
				return
			}
			ph.sample(base+current, t)
		})
		if err != nil {
			return nil, transferError(job.PhaseFetch, err)
		}
		if fi, err := os.Stat(path); err == nil {
			base += float64(fi.Size())
		}
		inputs = append(inputs, path)
	}

	if total < base {
		total = base
	}
	ph.finish(total)
	return inputs, nil
}

func (w *Worker) transcode(ctx context.Context, spec job.Spec, inputs []string, dir string) (string, error) {
	output := filepath.Join(dir, OutputName(spec))

	ph := w.newPhase(ctx, spec, job.PhaseTranscode, progress.Seconds, true)
	ph.start()

	err := w.deps.Encoder.Encode(ctx, spec, inputs, output, func(current, total float64) {
		ph.sample(current, total)
	})
	if err != nil {
		var je *job.Error
		if errors.As(err, &je) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", job.Encode(err)
	}
	if fi, err := os.Stat(output); err != nil || fi.Size() == 0 {
		return "", job.Encode(ErrNoOutput)
	}

	ph.finish(ph.total)
	return output, nil
}

func (w *Worker) deliver(ctx context.Context, spec job.Spec, artifact string) (string, int64, error) {
	fi, err := os.Stat(artifact)
	if err != nil {
		return "", 0, job.Internal(job.PhaseDeliver, err)
	}
	size := fi.Size()

	ph := w.newPhase(ctx, spec, job.PhaseDeliver, progress.Bytes, false)
	ph.start()

	ref, err := w.deps.Deliverer.Deliver(ctx, spec, artifact, func(current, total float64) {
		ph.sample(current, total)
	})
	if err != nil {
		return "", 0, transferError(job.PhaseDeliver, err)
	}

	ph.finish(float64(size))
	return ref, size, nil
}

func transferError(phase job.Phase, err error) error {
	var je *job.Error
	if errors.As(err, &je) || errors.Is(err, context.Canceled) {
		return err
	}
	return job.Transfer(phase, err)
}

// OutputName is the artifact file name: the source name with the operation
// appended, e.g. "holiday_720p.mp4".
func OutputName(spec job.Spec) string {
	stem := strings.TrimSuffix(filepath.Base(spec.SourceName), filepath.Ext(spec.SourceName))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "video"
	}
	tag := ""
	if spec.Operation != nil {
		tag = spec.Operation.Kind()
		if q, ok := spec.Operation.(job.Quality); ok {
			tag = q.Name
		}
	}
	if tag != "" {
		stem += "_" + tag
	}
	return stem + job.OutputExt(spec.Operation)
}

func (w *Worker) begin(spec job.Spec, started time.Time, cancel context.CancelFunc) {
	w.current.lock.Lock()
	defer w.current.lock.Unlock()
	w.current.active = true
	w.current.cancel = cancel
	w.current.snapshot = Snapshot{Spec: spec, Phase: job.PhaseFetch, StartedAt: started}
}

func (w *Worker) end() {
	w.current.lock.Lock()
	defer w.current.lock.Unlock()
	w.current.active = false
	w.current.cancel = nil
	w.current.snapshot = Snapshot{}
}

func (w *Worker) observe(phase job.Phase, status progress.Status) {
	w.current.lock.Lock()
	defer w.current.lock.Unlock()
	if !w.current.active {
		return
	}
	w.current.snapshot.Phase = phase
	w.current.snapshot.Progress = status
}
