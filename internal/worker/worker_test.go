// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/queue"
	"github.com/ZSC714725/encodequeue/internal/store"
)

type stepClock struct {
	now  time.Time
	step time.Duration
	lock sync.Mutex
}

func (c *stepClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type fakeFetcher struct {
	size int64
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref job.SourceRef, dir string, progress ProgressFunc) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	size := float64(f.size)
	progress(0, size)
	progress(size/2, size)
	path := filepath.Join(dir, "in_"+filepath.Base(ref.Locator))
	if err := os.WriteFile(path, make([]byte, f.size), 0o644); err != nil {
		return "", err
	}
	progress(size, size)
	return path, nil
}

type fakeEncoder struct {
	times    []float64
	duration float64
	fail     func(spec job.Spec) error
	panics   bool
	block    bool
	noOutput bool
	started  chan struct{}
}

func (e *fakeEncoder) Encode(ctx context.Context, spec job.Spec, inputs []string, output string, progress ProgressFunc) error {
	if e.panics {
		panic("boom")
	}
	if e.block {
		close(e.started)
		<-ctx.Done()
		return ctx.Err()
	}
	for _, t := range e.times {
		progress(t, e.duration)
	}
	if e.fail != nil {
		if err := e.fail(spec); err != nil {
			return err
		}
	}
	if e.noOutput {
		return nil
	}
	return os.WriteFile(output, []byte("encoded"), 0o644)
}

type fakeDeliverer struct {
	err error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, spec job.Spec, artifact string, progress ProgressFunc) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	fi, err := os.Stat(artifact)
	if err != nil {
		return "", err
	}
	progress(float64(fi.Size()), float64(fi.Size()))
	return "delivered:" + filepath.Base(artifact), nil
}

type completion struct {
	spec           job.Spec
	result         job.Result
	activeAtReport bool
}

type sink struct {
	queue   *queue.Service
	updates map[string][]Update
	done    chan completion
	lock    sync.Mutex
}

func (s *sink) ReportStatus(ctx context.Context, spec job.Spec, update Update) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.updates[spec.ID] = append(s.updates[spec.ID], update)
	return errors.New("message not modified")
}

func (s *sink) Complete(ctx context.Context, spec job.Spec, result job.Result) {
	s.done <- completion{spec: spec, result: result, activeAtReport: s.queue.IsActive(spec.SubmitterID)}
}

func (s *sink) phaseUpdates(id string, phase job.Phase) []Update {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []Update
	for _, u := range s.updates[id] {
		if u.Phase == phase {
			out = append(out, u)
		}
	}
	return out
}

type harness struct {
	queue   *queue.Service
	worker  *Worker
	sink    *sink
	workDir string
	stats   store.Store
}

func newHarness(t *testing.T, fetcher Fetcher, encoder Encoder, deliverer Deliverer) *harness {
	t.Helper()

	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: 5 * time.Second}
	h := &harness{
		queue:   queue.New(queue.Config{Capacity: 10}),
		workDir: t.TempDir(),
		stats:   store.NewMemory(store.Defaults{}),
	}
	h.sink = &sink{queue: h.queue, updates: make(map[string][]Update), done: make(chan completion, 10)}

	w, err := New(Config{WorkDir: h.workDir, Interval: 3 * time.Second, Clock: clock.Now}, Deps{
		Queue:     h.queue,
		Fetcher:   fetcher,
		Encoder:   encoder,
		Deliverer: deliverer,
		Status:    h.sink,
		Results:   h.sink,
		Recorder:  h.stats,
	})
	require.NoError(t, err)
	h.worker = w

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func (h *harness) enqueue(t *testing.T, submitter int64, op job.Operation) string {
	t.Helper()
	ticket, err := h.queue.TryEnqueue(job.Spec{
		SubmitterID: submitter,
		ChatID:      submitter,
		Source:      job.SourceRef{Kind: job.SourceFile, Locator: "/media/holiday.mkv"},
		SourceName:  "holiday.mkv",
		SourceSize:  1_000_000,
		Operation:   op,
	})
	require.NoError(t, err)
	return ticket.ID
}

func (h *harness) wait(t *testing.T) completion {
	t.Helper()
	select {
	case c := <-h.sink.done:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no result within 5s")
	}
	return completion{}
}

func (h *harness) requireClean(t *testing.T, c completion) {
	t.Helper()
	require.False(t, c.activeAtReport, "submitter still active when result was reported")
	require.Zero(t, h.queue.Stats().Active)
	entries, err := os.ReadDir(h.workDir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp files left behind")
}

func TestScenarioA(t *testing.T) {
	h := newHarness(t,
		&fakeFetcher{size: 1_000_000},
		&fakeEncoder{times: []float64{5}, duration: 10},
		&fakeDeliverer{},
	)
	id := h.enqueue(t, 1, job.Quality{Name: "480p"})

	c := h.wait(t)
	require.Equal(t, job.StatusSucceeded, c.result.Status)
	require.Equal(t, "delivered:holiday_480p.mp4", c.result.Output)
	require.Equal(t, "quality", c.result.Operation)
	h.requireClean(t, c)

	fetch := h.sink.phaseUpdates(id, job.PhaseFetch)
	require.Equal(t, StageStarted, fetch[0].Stage)
	require.Equal(t, StageFinished, fetch[len(fetch)-1].Stage)
	last := fetch[len(fetch)-2]
	require.True(t, last.Progress.Final)
	require.Equal(t, 100.0, last.Progress.Percentage)
	require.Equal(t, 1_000_000.0, last.Progress.Total)

	transcode := h.sink.phaseUpdates(id, job.PhaseTranscode)
	require.Equal(t, StageStarted, transcode[0].Stage)
	require.Equal(t, StageFinished, transcode[len(transcode)-1].Stage)
	var saw50 bool
	for _, u := range transcode {
		if u.Stage != StageProgress {
			continue
		}
		if !u.Progress.Final {
			assert.LessOrEqual(t, u.Progress.Percentage, 99.0)
		}
		if u.Progress.Percentage == 50 {
			saw50 = true
		}
	}
	require.True(t, saw50)
	final := transcode[len(transcode)-2]
	require.True(t, final.Progress.Final)
	require.Equal(t, 100.0, final.Progress.Percentage)

	deliver := h.sink.phaseUpdates(id, job.PhaseDeliver)
	require.Equal(t, StageStarted, deliver[0].Stage)
	require.Equal(t, StageFinished, deliver[len(deliver)-1].Stage)

	stats, err := h.stats.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalEncodes)
	require.EqualValues(t, 1, stats.ByOperation["quality"])
}

func TestFetchWithUnsizedExtraInputs(t *testing.T) {
	h := newHarness(t, &fakeFetcher{size: 100}, &fakeEncoder{}, &fakeDeliverer{})
	ticket, err := h.queue.TryEnqueue(job.Spec{
		SubmitterID: 1,
		ChatID:      1,
		Source:      job.SourceRef{Kind: job.SourceFile, Locator: "/media/a.mkv"},
		SourceName:  "a.mkv",
		Operation: job.Merge{Parts: []job.SourceRef{
			{Kind: job.SourceFile, Locator: "/media/b.mkv"},
			{Kind: job.SourceFile, Locator: "/media/c.mkv"},
		}},
	})
	require.NoError(t, err)

	c := h.wait(t)
	require.Equal(t, job.StatusSucceeded, c.result.Status)

	fetch := h.sink.phaseUpdates(ticket.ID, job.PhaseFetch)
	require.Equal(t, StageFinished, fetch[len(fetch)-1].Stage)

	var progressed []Update
	for _, u := range fetch {
		if u.Stage == StageProgress {
			progressed = append(progressed, u)
		}
	}
	require.NotEmpty(t, progressed)
	for _, u := range progressed[:len(progressed)-1] {
		assert.False(t, u.Progress.Final, "final render at %v of %v", u.Progress.Current, u.Progress.Total)
	}
	last := progressed[len(progressed)-1]
	assert.True(t, last.Progress.Final)
	assert.Equal(t, 300.0, last.Progress.Current)

	finished := fetch[len(fetch)-1].Progress
	assert.Equal(t, 300.0, finished.Current)
	assert.Equal(t, 300.0, finished.Total)
	assert.Equal(t, 100.0, finished.Percentage)
}

func TestCleanupOnPhaseFailure(t *testing.T) {
	tests := []struct {
		name      string
		fetcher   *fakeFetcher
		encoder   *fakeEncoder
		deliverer *fakeDeliverer
		kind      job.ErrorKind
		phase     job.Phase
	}{
		{
			name:      "fetch",
			fetcher:   &fakeFetcher{err: errors.New("connection reset")},
			encoder:   &fakeEncoder{},
			deliverer: &fakeDeliverer{},
			kind:      job.TransferError,
			phase:     job.PhaseFetch,
		},
		{
			name:    "transcode",
			fetcher: &fakeFetcher{size: 10},
			encoder: &fakeEncoder{fail: func(job.Spec) error {
				return job.Encode(errors.New("ffmpeg exit status 1"))
			}},
			deliverer: &fakeDeliverer{},
			kind:      job.EncodeError,
			phase:     job.PhaseTranscode,
		},
		{
			name:      "transcode untyped",
			fetcher:   &fakeFetcher{size: 10},
			encoder:   &fakeEncoder{fail: func(job.Spec) error { return errors.New("exit status 1") }},
			deliverer: &fakeDeliverer{},
			kind:      job.EncodeError,
			phase:     job.PhaseTranscode,
		},
		{
			name:      "no output",
			fetcher:   &fakeFetcher{size: 10},
			encoder:   &fakeEncoder{noOutput: true},
			deliverer: &fakeDeliverer{},
			kind:      job.EncodeError,
			phase:     job.PhaseTranscode,
		},
		{
			name:      "deliver",
			fetcher:   &fakeFetcher{size: 10},
			encoder:   &fakeEncoder{},
			deliverer: &fakeDeliverer{err: errors.New("upload failed")},
			kind:      job.TransferError,
			phase:     job.PhaseDeliver,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.fetcher, tc.encoder, tc.deliverer)
			h.enqueue(t, 1, job.RemoveAudio{})

			c := h.wait(t)
			require.Equal(t, job.StatusFailed, c.result.Status)
			require.Equal(t, tc.kind, c.result.Kind)
			require.Equal(t, tc.phase, c.result.Phase)
			require.NotEmpty(t, c.result.Message)
			h.requireClean(t, c)

			stats, err := h.stats.Stats(context.Background())
			require.NoError(t, err)
			require.Zero(t, stats.TotalEncodes)
		})
	}
}

func TestScenarioC(t *testing.T) {
	encoder := &fakeEncoder{fail: func(spec job.Spec) error {
		if spec.SubmitterID == 1 {
			return job.Encode(errors.New("ffmpeg exit status 1"))
		}
		return nil
	}}
	h := newHarness(t, &fakeFetcher{size: 10}, encoder, &fakeDeliverer{})
	h.enqueue(t, 1, job.RemoveAudio{})
	h.enqueue(t, 2, job.RemoveAudio{})

	first := h.wait(t)
	require.EqualValues(t, 1, first.spec.SubmitterID)
	require.Equal(t, job.StatusFailed, first.result.Status)
	require.Equal(t, job.EncodeError, first.result.Kind)
	require.False(t, first.activeAtReport)

	second := h.wait(t)
	require.EqualValues(t, 2, second.spec.SubmitterID)
	require.Equal(t, job.StatusSucceeded, second.result.Status)
	h.requireClean(t, second)

	// the failed submitter can enqueue again
	h.enqueue(t, 1, job.RemoveAudio{})
	require.Equal(t, job.StatusFailed, h.wait(t).result.Status)
}

func TestPanicBecomesInternalError(t *testing.T) {
	encoder := &fakeEncoder{panics: true}
	h := newHarness(t, &fakeFetcher{size: 10}, encoder, &fakeDeliverer{})
	h.enqueue(t, 1, job.RemoveAudio{})

	c := h.wait(t)
	require.Equal(t, job.StatusFailed, c.result.Status)
	require.Equal(t, job.InternalError, c.result.Kind)
	require.Equal(t, job.PhaseTranscode, c.result.Phase)
	require.Contains(t, c.result.Message, "boom")
	h.requireClean(t, c)

	_, running := h.worker.Current()
	require.False(t, running)

	// the loop is still consuming
	h.enqueue(t, 2, job.RemoveAudio{})
	require.Equal(t, job.InternalError, h.wait(t).result.Kind)
}

func TestCancelCurrent(t *testing.T) {
	encoder := &fakeEncoder{block: true, started: make(chan struct{})}
	h := newHarness(t, &fakeFetcher{size: 10}, encoder, &fakeDeliverer{})
	h.enqueue(t, 1, job.RemoveAudio{})

	select {
	case <-encoder.started:
	case <-time.After(5 * time.Second):
		t.Fatal("encoder never started")
	}

	snapshot, running := h.worker.Current()
	require.True(t, running)
	require.Equal(t, job.PhaseTranscode, snapshot.Phase)
	require.False(t, h.worker.CancelSubmitter(99))

	spec, ok := h.worker.CancelCurrent()
	require.True(t, ok)
	require.EqualValues(t, 1, spec.SubmitterID)

	c := h.wait(t)
	require.Equal(t, job.StatusCancelled, c.result.Status)
	require.Equal(t, job.PhaseTranscode, c.result.Phase)
	h.requireClean(t, c)

	_, ok = h.worker.CancelCurrent()
	require.False(t, ok)
}

func TestClearQueueCancelsWaitingJobs(t *testing.T) {
	encoder := &fakeEncoder{block: true, started: make(chan struct{})}
	h := newHarness(t, &fakeFetcher{size: 10}, encoder, &fakeDeliverer{})
	running := h.enqueue(t, 1, job.RemoveAudio{})

	select {
	case <-encoder.started:
	case <-time.After(5 * time.Second):
		t.Fatal("encoder never started")
	}
	waiting := h.enqueue(t, 2, job.RemoveAudio{})

	pending, active := h.worker.ClearQueue(context.Background())
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, active)

	c := h.wait(t)
	assert.Equal(t, waiting, c.spec.ID)
	assert.Equal(t, job.StatusCancelled, c.result.Status)
	assert.Equal(t, int64(2), c.result.SubmitterID)
	assert.False(t, c.result.FinishedAt.IsZero())

	// the running job is not pre-empted by the clear
	_, ok := h.worker.Current()
	require.True(t, ok)

	_, ok = h.worker.CancelCurrent()
	require.True(t, ok)
	c = h.wait(t)
	assert.Equal(t, running, c.spec.ID)
	assert.Equal(t, job.StatusCancelled, c.result.Status)
	h.requireClean(t, c)
}

func TestUnknownDurationSkipsTranscodeProgress(t *testing.T) {
	h := newHarness(t, &fakeFetcher{size: 10}, &fakeEncoder{times: []float64{1, 2}, duration: 0}, &fakeDeliverer{})
	id := h.enqueue(t, 1, job.RemoveAudio{})

	c := h.wait(t)
	require.Equal(t, job.StatusSucceeded, c.result.Status)

	transcode := h.sink.phaseUpdates(id, job.PhaseTranscode)
	require.Len(t, transcode, 2)
	require.Equal(t, StageStarted, transcode[0].Stage)
	require.Equal(t, StageFinished, transcode[1].Stage)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{WorkDir: t.TempDir()}, Deps{})
	require.ErrorIs(t, err, ErrMissingDep)
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		spec job.Spec
		want string
	}{
		{job.Spec{SourceName: "holiday.mkv", Operation: job.Quality{Name: "720p"}}, "holiday_720p.mp4"},
		{job.Spec{SourceName: "talk.mp4", Operation: job.ExtractAudio{}}, "talk_extract_audio.m4a"},
		{job.Spec{SourceName: "../../etc/clip.mov", Operation: job.ExtractThumbnail{At: "00:00:01"}}, "clip_extract_thumbnail.jpg"},
		{job.Spec{Operation: job.RemoveAudio{}}, "video_remove_audio.mp4"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, OutputName(tc.spec))
	}
}
