// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列
//
// Package job holds the description of a unit of encoding work and its outcome.

package job

import "time"

// SourceKind tells the fetcher how to resolve a SourceRef
type SourceKind string

const (
	SourceTelegram SourceKind = "telegram"
	SourceFile     SourceKind = "file"
)

// SourceRef locates an input media file. The core never interprets Locator.
type SourceRef struct {
	Kind    SourceKind `json:"kind"`
	Locator string     `json:"locator"`
	Name    string     `json:"name,omitempty"`
	Size    int64      `json:"size,omitempty"`
}

// IsZero reports whether the reference is unset
func (r SourceRef) IsZero() bool {
	return r.Locator == ""
}

// Spec is an immutable job description. Sequence and QueuedAt are assigned
// by the queue on admission.
type Spec struct {
	ID          string    `json:"id"`
	SubmitterID int64     `json:"submitter_id"`
	ChatID      int64     `json:"chat_id"`
	MessageID   int       `json:"message_id,omitempty"`
	Source      SourceRef `json:"source"`
	SourceName  string    `json:"source_name"`
	SourceSize  int64     `json:"source_size_bytes"`
	Operation   Operation `json:"-"`
	Sequence    uint64    `json:"sequence"`
	QueuedAt    time.Time `json:"queued_at"`
}

// Inputs returns every source the job needs locally, the primary source first.
func (s Spec) Inputs() []SourceRef {
	refs := []SourceRef{s.Source}
	return append(refs, ExtraInputs(s.Operation)...)
}

// Phase is one of the three sequential stages of a job
type Phase string

const (
	PhaseFetch     Phase = "fetch"
	PhaseTranscode Phase = "transcode"
	PhaseDeliver   Phase = "deliver"
)

// Label is the user facing phase title
func (p Phase) Label() string {
	switch p {
	case PhaseFetch:
		return "1. Downloading"
	case PhaseTranscode:
		return "2. Encoding"
	case PhaseDeliver:
		return "3. Uploading"
	}
	return string(p)
}
