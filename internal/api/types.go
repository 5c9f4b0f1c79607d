// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package api

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/process"
	"github.com/ZSC714725/encodequeue/internal/queue"
	"github.com/ZSC714725/encodequeue/internal/worker"
)

// SourceRequest is a file on the server's disk
type SourceRequest struct {
	Path string `json:"path" binding:"required"`
	Name string `json:"name"`
}

func (s SourceRequest) ref() job.SourceRef {
	name := s.Name
	if name == "" {
		name = filepath.Base(s.Path)
	}
	return job.SourceRef{Kind: job.SourceFile, Locator: s.Path, Name: name}
}

// OperationRequest carries the parameters of one operation kind
type OperationRequest struct {
	Kind     string          `json:"kind" binding:"required"`
	Name     string          `json:"name"`
	TargetMB int             `json:"target_mb"`
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Parts    []SourceRequest `json:"parts"`
	Text     string          `json:"text"`
	Position string          `json:"position"`
	Logo     *SourceRequest  `json:"logo"`
	Subtitle *SourceRequest  `json:"subtitle"`
	Mode     string          `json:"mode"`
	Audio    *SourceRequest  `json:"audio"`
	At       string          `json:"at"`
	Ratio    string          `json:"ratio"`
}

// Operation converts the request into a job operation. Parameters are
// validated by the queue on admission.
func (r OperationRequest) Operation() (job.Operation, error) {
	switch r.Kind {
	case "quality":
		return job.Quality{Name: r.Name}, nil
	case "compress":
		return job.Compress{TargetMB: r.TargetMB}, nil
	case "trim":
		return job.Trim{Start: r.Start, End: r.End}, nil
	case "merge":
		parts := make([]job.SourceRef, 0, len(r.Parts))
		for _, p := range r.Parts {
			parts = append(parts, p.ref())
		}
		return job.Merge{Parts: parts}, nil
	case "watermark_text":
		return job.TextWatermark{Text: r.Text, Position: r.Position}, nil
	case "watermark_logo":
		if r.Logo == nil {
			return nil, fmt.Errorf("logo is required")
		}
		return job.LogoWatermark{Logo: r.Logo.ref(), Position: r.Position}, nil
	case "add_subtitle":
		if r.Subtitle == nil {
			return nil, fmt.Errorf("subtitle is required")
		}
		mode := r.Mode
		if mode == "" {
			mode = job.SubtitleSoft
		}
		return job.AddSubtitle{Subtitle: r.Subtitle.ref(), Mode: mode}, nil
	case "remove_subtitle":
		return job.RemoveSubtitle{}, nil
	case "extract_audio":
		return job.ExtractAudio{}, nil
	case "remove_audio":
		return job.RemoveAudio{}, nil
	case "add_audio":
		if r.Audio == nil {
			return nil, fmt.Errorf("audio is required")
		}
		return job.AddAudio{Audio: r.Audio.ref()}, nil
	case "extract_thumbnail":
		return job.ExtractThumbnail{At: r.At}, nil
	case "change_aspect":
		return job.ChangeAspect{Ratio: r.Ratio}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", r.Kind)
}

// JobRequest for POST /api/v1/jobs. SubmitterID defaults to the operator.
type JobRequest struct {
	SubmitterID int64            `json:"submitter_id"`
	Source      SourceRequest    `json:"source" binding:"required"`
	Operation   OperationRequest `json:"operation" binding:"required"`
}

// JobAccepted is the answer to a successful submission
type JobAccepted struct {
	ID       string `json:"id"`
	Sequence uint64 `json:"sequence"`
	Position int    `json:"position"`
}

// PendingJob is a queued job
type PendingJob struct {
	ID          string    `json:"id"`
	SubmitterID int64     `json:"submitter_id"`
	Source      string    `json:"source"`
	Operation   string    `json:"operation"`
	Description string    `json:"description"`
	Position    int       `json:"position"`
	QueuedAt    time.Time `json:"queued_at"`
}

func toPending(spec job.Spec, position int) PendingJob {
	p := PendingJob{
		ID:          spec.ID,
		SubmitterID: spec.SubmitterID,
		Source:      spec.SourceName,
		Description: job.Describe(spec.Operation),
		Position:    position,
		QueuedAt:    spec.QueuedAt,
	}
	if spec.Operation != nil {
		p.Operation = spec.Operation.Kind()
	}
	return p
}

// QueueResponse for GET /api/v1/queue
type QueueResponse struct {
	queue.Stats
	Jobs []PendingJob `json:"pending_jobs"`
}

// ClearResponse for DELETE /api/v1/queue
type ClearResponse struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

// Progress of the running phase
type Progress struct {
	Current    float64 `json:"current"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
	Speed      float64 `json:"speed"`
	ETA        float64 `json:"eta_seconds"`
}

// RunningJob is the job the worker executes
type RunningJob struct {
	PendingJob
	Phase     job.Phase `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	Runtime   float64   `json:"runtime_seconds"`
	Progress  *Progress `json:"progress,omitempty"`
}

func toRunning(snap worker.Snapshot, now time.Time) *RunningJob {
	r := &RunningJob{
		PendingJob: toPending(snap.Spec, 0),
		Phase:      snap.Phase,
		StartedAt:  snap.StartedAt,
		Runtime:    now.Sub(snap.StartedAt).Seconds(),
	}
	if p := snap.Progress; p.Total > 0 {
		r.Progress = &Progress{
			Current:    p.Current,
			Total:      p.Total,
			Percentage: p.Percentage,
			Speed:      p.Speed,
			ETA:        p.ETA.Seconds(),
		}
	}
	return r
}

// JobState for GET /api/v1/jobs/:id
type JobState struct {
	ID       string      `json:"id"`
	State    string      `json:"state"`
	Position int         `json:"position,omitempty"`
	Running  *RunningJob `json:"running,omitempty"`
	Result   *job.Result `json:"result,omitempty"`
}

// ProcessState of the encoder child
type ProcessState struct {
	Running  bool     `json:"running"`
	Pid      int      `json:"pid,omitempty"`
	Runtime  float64  `json:"runtime_seconds"`
	Position float64  `json:"position_seconds"`
	CPU      float64  `json:"cpu_usage"`
	Memory   uint64   `json:"memory_bytes"`
	Frame    uint64   `json:"frame"`
	FPS      float64  `json:"fps"`
	Speed    float64  `json:"speed"`
	Command  []string `json:"command,omitempty"`
}

func toProcessState(s process.Status) ProcessState {
	return ProcessState{
		Running:  s.Running,
		Pid:      s.Pid,
		Runtime:  s.Duration.Seconds(),
		Position: s.Position,
		CPU:      s.CPU,
		Memory:   s.Memory,
		Frame:    s.Stats.Frame,
		FPS:      s.Stats.FPS,
		Speed:    s.Stats.Speed,
		Command:  s.Args,
	}
}

// StatusResponse for GET /api/v1/status
type StatusResponse struct {
	Queue   queue.Stats  `json:"queue"`
	Current *RunningJob  `json:"current"`
	Process ProcessState `json:"process"`
	Recent  []job.Result `json:"recent"`
}

// ErrorResponse for API errors
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
