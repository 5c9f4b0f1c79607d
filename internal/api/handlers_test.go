// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/encodequeue/internal/ffmpeg/skills"
	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/process"
	"github.com/ZSC714725/encodequeue/internal/progress"
	"github.com/ZSC714725/encodequeue/internal/queue"
	"github.com/ZSC714725/encodequeue/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const admin = "1"

type fakeEngine struct {
	status    process.Status
	skills    skills.Skills
	reloadErr error
	reloads   int
}

func (e *fakeEngine) ValidateInput(address string) bool {
	return !strings.Contains(address, "forbidden")
}
func (e *fakeEngine) Status() process.Status { return e.status }
func (e *fakeEngine) Skills() skills.Skills  { return e.skills }
func (e *fakeEngine) ReloadSkills() error {
	e.reloads++
	return e.reloadErr
}

type fakeJobs struct {
	queue     *queue.Service
	current   *worker.Snapshot
	cancelled int
	cleared   []job.Spec
}

func (j *fakeJobs) ClearQueue(ctx context.Context) (int, int) {
	drained, active := j.queue.Clear()
	j.cleared = append(j.cleared, drained...)
	return len(drained), active
}

func (j *fakeJobs) Current() (worker.Snapshot, bool) {
	if j.current == nil {
		return worker.Snapshot{}, false
	}
	return *j.current, true
}

func (j *fakeJobs) CancelCurrent() (job.Spec, bool) {
	if j.current == nil {
		return job.Spec{}, false
	}
	j.cancelled++
	return j.current.Spec, true
}

type harness struct {
	queue   *queue.Service
	jobs    *fakeJobs
	history *worker.History
	engine  *fakeEngine
	router  *gin.Engine
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	gin.SetMode(gin.TestMode)
	h := &harness{
		queue:   queue.New(queue.Config{Capacity: 2}),
		history: worker.NewHistory(10),
		engine:  &fakeEngine{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.jobs = &fakeJobs{queue: h.queue}
	handler := NewHandler(Config{
		Queue:   h.queue,
		Jobs:    h.jobs,
		Results: h.history,
		Engine:  h.engine,
		Clock:   func() time.Time { return h.now },
	})
	h.router = NewRouter(handler, []int64{1})
	return h
}

func (h *harness) do(t *testing.T, method, path, operator string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if operator != "" {
		req.Header.Set(OperatorHeader, operator)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func qualityJob(submitter int64) map[string]interface{} {
	return map[string]interface{}{
		"submitter_id": submitter,
		"source":       map[string]string{"path": "/media/holiday.mp4"},
		"operation":    map[string]string{"kind": "quality", "name": "720p"},
	}
}

func TestOperatorRequired(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/v1/queue", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/queue", "2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/queue", "abc", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "Not an operator", resp.Message)
}

func TestAddJob(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(7))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	accepted := decode[JobAccepted](t, w)
	assert.NotEmpty(t, accepted.ID)
	assert.Equal(t, 1, accepted.Position)

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(7), pending[0].SubmitterID)
	assert.Equal(t, job.SourceRef{Kind: job.SourceFile, Locator: "/media/holiday.mp4", Name: "holiday.mp4"}, pending[0].Source)
	assert.Equal(t, job.Quality{Name: "720p"}, pending[0].Operation)
}

func TestAddJobDefaultsSubmitterToOperator(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(0))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int64(1), h.queue.Pending()[0].SubmitterID)
}

func TestAddJobAdmissionErrors(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(7)).Code)

	w := h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(7))
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(8)).Code)
	w = h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(9))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAddJobInvalid(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"no source", map[string]interface{}{
			"operation": map[string]string{"kind": "quality", "name": "720p"},
		}},
		{"relative path", map[string]interface{}{
			"source":    map[string]string{"path": "holiday.mp4"},
			"operation": map[string]string{"kind": "quality", "name": "720p"},
		}},
		{"forbidden path", map[string]interface{}{
			"source":    map[string]string{"path": "/forbidden/holiday.mp4"},
			"operation": map[string]string{"kind": "quality", "name": "720p"},
		}},
		{"forbidden extra input", map[string]interface{}{
			"source":    map[string]string{"path": "/media/holiday.mp4"},
			"operation": map[string]interface{}{"kind": "add_audio", "audio": map[string]string{"path": "/forbidden/a.mp3"}},
		}},
		{"unknown kind", map[string]interface{}{
			"source":    map[string]string{"path": "/media/holiday.mp4"},
			"operation": map[string]string{"kind": "teleport"},
		}},
		{"missing logo", map[string]interface{}{
			"source":    map[string]string{"path": "/media/holiday.mp4"},
			"operation": map[string]string{"kind": "watermark_logo"},
		}},
		{"invalid parameters", map[string]interface{}{
			"source":    map[string]string{"path": "/media/holiday.mp4"},
			"operation": map[string]interface{}{"kind": "compress", "target_mb": 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(t, http.MethodPost, "/api/v1/jobs", admin, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Empty(t, h.queue.Pending())
		})
	}
}

func TestOperationRequestKinds(t *testing.T) {
	src := &SourceRequest{Path: "/media/extra.srt"}
	tests := []struct {
		req  OperationRequest
		want job.Operation
	}{
		{OperationRequest{Kind: "trim", Start: "00:00:01", End: "00:00:05"}, job.Trim{Start: "00:00:01", End: "00:00:05"}},
		{OperationRequest{Kind: "merge", Parts: []SourceRequest{{Path: "/media/b.mp4"}}},
			job.Merge{Parts: []job.SourceRef{{Kind: job.SourceFile, Locator: "/media/b.mp4", Name: "b.mp4"}}}},
		{OperationRequest{Kind: "add_subtitle", Subtitle: src},
			job.AddSubtitle{Subtitle: job.SourceRef{Kind: job.SourceFile, Locator: "/media/extra.srt", Name: "extra.srt"}, Mode: job.SubtitleSoft}},
		{OperationRequest{Kind: "extract_thumbnail", At: "00:00:03"}, job.ExtractThumbnail{At: "00:00:03"}},
		{OperationRequest{Kind: "change_aspect", Ratio: "4:3"}, job.ChangeAspect{Ratio: "4:3"}},
		{OperationRequest{Kind: "remove_subtitle"}, job.RemoveSubtitle{}},
	}

	for _, tt := range tests {
		t.Run(tt.req.Kind, func(t *testing.T) {
			op, err := tt.req.Operation()
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
			assert.Equal(t, tt.req.Kind, op.Kind())
		})
	}
}

func TestGetQueueAndClear(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(7))
	h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(8))

	w := h.do(t, http.MethodGet, "/api/v1/queue", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[QueueResponse](t, w)
	assert.Equal(t, 2, resp.Pending)
	assert.Equal(t, 2, resp.Capacity)
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, int64(8), resp.Jobs[1].SubmitterID)
	assert.Equal(t, 2, resp.Jobs[1].Position)
	assert.Equal(t, "quality", resp.Jobs[0].Operation)

	w = h.do(t, http.MethodDelete, "/api/v1/queue", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ClearResponse{Pending: 2}, decode[ClearResponse](t, w))
	assert.Empty(t, h.queue.Pending())
	require.Len(t, h.jobs.cleared, 2)
	assert.Equal(t, int64(7), h.jobs.cleared[0].SubmitterID)
}

func TestGetJobStates(t *testing.T) {
	h := newHarness(t)

	accepted := decode[JobAccepted](t, h.do(t, http.MethodPost, "/api/v1/jobs", admin, qualityJob(7)))
	state := decode[JobState](t, h.do(t, http.MethodGet, "/api/v1/jobs/"+accepted.ID, admin, nil))
	assert.Equal(t, "pending", state.State)
	assert.Equal(t, 1, state.Position)

	spec, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	h.jobs.current = &worker.Snapshot{
		Spec:      spec,
		Phase:     job.PhaseTranscode,
		StartedAt: h.now.Add(-time.Minute),
		Progress:  progress.Status{Current: 30, Total: 60, Percentage: 50, Speed: 1, ETA: 30 * time.Second},
	}
	state = decode[JobState](t, h.do(t, http.MethodGet, "/api/v1/jobs/"+accepted.ID, admin, nil))
	assert.Equal(t, "running", state.State)
	require.NotNil(t, state.Running)
	assert.Equal(t, job.PhaseTranscode, state.Running.Phase)
	assert.Equal(t, 60.0, state.Running.Runtime)
	require.NotNil(t, state.Running.Progress)
	assert.Equal(t, 50.0, state.Running.Progress.Percentage)
	assert.Equal(t, 30.0, state.Running.Progress.ETA)

	h.jobs.current = nil
	result := job.NewResult(spec, h.now)
	result.Fail(job.Encode(errors.New("ffmpeg exit status 1")), job.PhaseTranscode, h.now)
	h.history.Complete(context.Background(), spec, result)

	state = decode[JobState](t, h.do(t, http.MethodGet, "/api/v1/jobs/"+accepted.ID, admin, nil))
	assert.Equal(t, "failed", state.State)
	require.NotNil(t, state.Result)
	assert.Equal(t, job.EncodeError, state.Result.Kind)

	w := h.do(t, http.MethodGet, "/api/v1/jobs/nope", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelCurrent(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodDelete, "/api/v1/jobs/current", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.jobs.current = &worker.Snapshot{Spec: job.Spec{ID: "j1", SubmitterID: 7}}
	w = h.do(t, http.MethodDelete, "/api/v1/jobs/current", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, JobState{ID: "j1", State: "cancelling"}, decode[JobState](t, w))
	assert.Equal(t, 1, h.jobs.cancelled)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.engine.status = process.Status{
		Running: true, Pid: 42, CPU: 150, Memory: 1 << 20, Args: []string{"-i", "in.mp4"},
		Stats: process.Stats{Frame: 250, FPS: 50, Speed: 2.08},
	}
	h.jobs.current = &worker.Snapshot{Spec: job.Spec{ID: "j1", SubmitterID: 7, Operation: job.RemoveAudio{}}, Phase: job.PhaseTranscode, StartedAt: h.now}

	w := h.do(t, http.MethodGet, "/api/v1/status", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[StatusResponse](t, w)

	require.NotNil(t, resp.Current)
	assert.Equal(t, "j1", resp.Current.ID)
	assert.Equal(t, "remove_audio", resp.Current.Operation)
	assert.Nil(t, resp.Current.Progress)
	assert.True(t, resp.Process.Running)
	assert.Equal(t, 42, resp.Process.Pid)
	assert.Equal(t, uint64(1<<20), resp.Process.Memory)
	assert.Equal(t, uint64(250), resp.Process.Frame)
	assert.InDelta(t, 50.0, resp.Process.FPS, 1e-9)
	assert.InDelta(t, 2.08, resp.Process.Speed, 1e-9)
	assert.Empty(t, resp.Recent)
}

func TestSkills(t *testing.T) {
	h := newHarness(t)
	h.engine.skills = skills.Skills{
		FFmpeg:  skills.Info{Version: "6.1"},
		Filters: []skills.Filter{{Id: "scale"}, {Id: "overlay"}},
		Codecs: skills.Codecs{Video: []skills.Codec{
			{Id: "h264", Encoders: []string{"libx264"}},
			{Id: "vp3"},
		}},
	}

	w := h.do(t, http.MethodGet, "/api/v1/skills", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SkillsResponse](t, w)
	assert.Equal(t, "6.1", resp.FFmpeg.Version)
	assert.Equal(t, []string{"scale", "overlay"}, resp.Filters)
	assert.ElementsMatch(t, []string{"drawtext", "subtitles"}, resp.Missing)
	require.Len(t, resp.Codecs.Video, 1)
	assert.Equal(t, "h264", resp.Codecs.Video[0].ID)

	h.engine.reloadErr = errors.New("ffmpeg not found")
	w = h.do(t, http.MethodPost, "/api/v1/skills/reload", admin, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, h.engine.reloads)
}
