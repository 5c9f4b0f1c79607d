// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package job

import (
	"context"
	"errors"
	"time"
)

// Status is the terminal state of a job
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is produced exactly once per Spec
type Result struct {
	JobID       string    `json:"job_id"`
	SubmitterID int64     `json:"submitter_id"`
	Sequence    uint64    `json:"sequence"`
	Operation   string    `json:"operation"`
	Status      Status    `json:"status"`
	Output      string    `json:"output,omitempty"`
	Kind        ErrorKind `json:"error_kind,omitempty"`
	Phase       Phase     `json:"phase,omitempty"`
	Message     string    `json:"message,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NewResult starts a result for spec. Status is filled by Succeed or Fail.
func NewResult(spec Spec, startedAt time.Time) Result {
	r := Result{
		JobID:       spec.ID,
		SubmitterID: spec.SubmitterID,
		Sequence:    spec.Sequence,
		QueuedAt:    spec.QueuedAt,
		StartedAt:   startedAt,
	}
	if spec.Operation != nil {
		r.Operation = spec.Operation.Kind()
	}
	return r
}

// Succeed marks the result successful
func (r *Result) Succeed(output string, at time.Time) {
	r.Status = StatusSucceeded
	r.Output = output
	r.FinishedAt = at
}

// Fail records err. Context cancellation becomes StatusCancelled.
func (r *Result) Fail(err error, phase Phase, at time.Time) {
	r.FinishedAt = at
	r.Message = err.Error()
	if errors.Is(err, context.Canceled) {
		r.Status = StatusCancelled
		r.Phase = phase
		return
	}
	r.Status = StatusFailed
	r.Kind, r.Phase = Classify(err, phase)
}

// Cancel marks a job that never ran as cancelled
func (r *Result) Cancel(reason string, at time.Time) {
	r.Status = StatusCancelled
	r.Message = reason
	r.FinishedAt = at
}

// Elapsed is the time spent executing
func (r Result) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
