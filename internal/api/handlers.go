// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZSC714725/encodequeue/internal/ffmpeg/skills"
	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
	"github.com/ZSC714725/encodequeue/internal/process"
	"github.com/ZSC714725/encodequeue/internal/queue"
	"github.com/ZSC714725/encodequeue/internal/worker"
)

// Queue is the queue service as seen by the operator
type Queue interface {
	TryEnqueue(spec job.Spec) (queue.Ticket, error)
	Stats() queue.Stats
	Pending() []job.Spec
	Find(id string) (job.Spec, int, bool)
}

// Jobs is the worker as seen by the operator
type Jobs interface {
	Current() (worker.Snapshot, bool)
	CancelCurrent() (job.Spec, bool)
	ClearQueue(ctx context.Context) (pending, active int)
}

// Results looks up finished jobs
type Results interface {
	Get(id string) (job.Result, bool)
	Recent(n int) []job.Result
}

// Engine is the encoder binary
type Engine interface {
	ValidateInput(address string) bool
	Status() process.Status
	Skills() skills.Skills
	ReloadSkills() error
}

// Config for NewHandler
type Config struct {
	Queue   Queue
	Jobs    Jobs
	Results Results
	Engine  Engine
	Logger  logger.Logger
	Clock   func() time.Time
}

// Handler holds dependencies
type Handler struct {
	queue   Queue
	jobs    Jobs
	results Results
	engine  Engine
	logger  logger.Logger
	now     func() time.Time
}

const recentResults = 10

// NewHandler creates API handler
func NewHandler(config Config) *Handler {
	h := &Handler{
		queue:   config.Queue,
		jobs:    config.Jobs,
		results: config.Results,
		engine:  config.Engine,
		logger:  config.Logger,
		now:     config.Clock,
	}
	if h.logger == nil {
		h.logger = logger.Nop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func errResp(c *gin.Context, code int, msg, detail string) {
	c.JSON(code, ErrorResponse{Code: code, Message: msg, Detail: detail})
}

// GetQueue GET /api/v1/queue
func (h *Handler) GetQueue(c *gin.Context) {
	pending := h.queue.Pending()
	resp := QueueResponse{
		Stats: h.queue.Stats(),
		Jobs:  make([]PendingJob, 0, len(pending)),
	}
	for i, spec := range pending {
		resp.Jobs = append(resp.Jobs, toPending(spec, i+1))
	}
	c.JSON(http.StatusOK, resp)
}

// ClearQueue DELETE /api/v1/queue
func (h *Handler) ClearQueue(c *gin.Context) {
	pending, active := h.jobs.ClearQueue(c.Request.Context())
	h.logger.Info("operator %d cleared the queue (%d pending, %d active)", operator(c), pending, active)
	c.JSON(http.StatusOK, ClearResponse{Pending: pending, Active: active})
}

// AddJob POST /api/v1/jobs
func (h *Handler) AddJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	op, err := req.Operation.Operation()
	if err != nil {
		errResp(c, http.StatusBadRequest, "Invalid operation", err.Error())
		return
	}

	source := req.Source.ref()
	for _, ref := range append([]job.SourceRef{source}, job.ExtraInputs(op)...) {
		if !filepath.IsAbs(ref.Locator) || !h.engine.ValidateInput(ref.Locator) {
			errResp(c, http.StatusBadRequest, "Invalid source", ref.Locator)
			return
		}
	}

	submitter := req.SubmitterID
	if submitter == 0 {
		submitter = operator(c)
	}

	ticket, err := h.queue.TryEnqueue(job.Spec{
		SubmitterID: submitter,
		Source:      source,
		SourceName:  source.Name,
		Operation:   op,
	})
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrAlreadyActive):
			errResp(c, http.StatusConflict, "Submitter has an active job", err.Error())
		case errors.Is(err, queue.ErrQueueFull):
			errResp(c, http.StatusServiceUnavailable, "Queue full", err.Error())
		default:
			errResp(c, http.StatusBadRequest, "Invalid job", err.Error())
		}
		return
	}

	h.logger.Info("operator %d queued job %s (%s) at position %d", operator(c), ticket.ID, op.Kind(), ticket.Position)
	c.JSON(http.StatusAccepted, JobAccepted{ID: ticket.ID, Sequence: ticket.Sequence, Position: ticket.Position})
}

// GetJob GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")

	if snap, ok := h.jobs.Current(); ok && snap.Spec.ID == id {
		c.JSON(http.StatusOK, JobState{ID: id, State: "running", Running: toRunning(snap, h.now())})
		return
	}
	if _, position, ok := h.queue.Find(id); ok {
		c.JSON(http.StatusOK, JobState{ID: id, State: "pending", Position: position})
		return
	}
	if result, ok := h.results.Get(id); ok {
		c.JSON(http.StatusOK, JobState{ID: id, State: string(result.Status), Result: &result})
		return
	}

	errResp(c, http.StatusNotFound, "Unknown job ID", id)
}

// CancelCurrent DELETE /api/v1/jobs/current
func (h *Handler) CancelCurrent(c *gin.Context) {
	spec, ok := h.jobs.CancelCurrent()
	if !ok {
		errResp(c, http.StatusNotFound, "No running job", "")
		return
	}
	h.logger.Info("operator %d cancelled job %s", operator(c), spec.ID)
	c.JSON(http.StatusOK, JobState{ID: spec.ID, State: "cancelling"})
}

// Status GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	resp := StatusResponse{
		Queue:   h.queue.Stats(),
		Process: toProcessState(h.engine.Status()),
		Recent:  h.results.Recent(recentResults),
	}
	if snap, ok := h.jobs.Current(); ok {
		resp.Current = toRunning(snap, h.now())
	}
	c.JSON(http.StatusOK, resp)
}

// Skills GET /api/v1/skills
func (h *Handler) Skills(c *gin.Context) {
	c.JSON(http.StatusOK, skillsToAPI(h.engine.Skills()))
}

// ReloadSkills POST /api/v1/skills/reload
func (h *Handler) ReloadSkills(c *gin.Context) {
	if err := h.engine.ReloadSkills(); err != nil {
		errResp(c, http.StatusInternalServerError, "Reload failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, skillsToAPI(h.engine.Skills()))
}
