// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package queue

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive = errors.New("submitter already has an active job")
	ErrQueueFull     = errors.New("queue is full")
	ErrInvalidJob    = errors.New("invalid job")
)

// AdmissionError is returned by TryEnqueue when a job is rejected before
// entering the pipeline.
type AdmissionError struct {
	Reason      error
	SubmitterID int64
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("submitter %d: %v", e.SubmitterID, e.Reason)
}

func (e *AdmissionError) Unwrap() error { return e.Reason }
