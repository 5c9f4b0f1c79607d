// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package job

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrNoOperation      = errors.New("job has no operation")
)

// ErrorKind classifies why a job failed after it left the queue
type ErrorKind string

const (
	TransferError ErrorKind = "TransferError"
	EncodeError   ErrorKind = "EncodeError"
	InternalError ErrorKind = "InternalError"
)

// Error is a phase failure carrying its classification
type Error struct {
	Kind  ErrorKind
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s in %s", e.Kind, e.Phase)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transfer wraps a fetch or deliver failure
func Transfer(phase Phase, err error) error {
	return &Error{Kind: TransferError, Phase: phase, Err: err}
}

// Encode wraps an external encoder failure
func Encode(err error) error {
	return &Error{Kind: EncodeError, Phase: PhaseTranscode, Err: err}
}

// Internal wraps anything unanticipated
func Internal(phase Phase, err error) error {
	return &Error{Kind: InternalError, Phase: phase, Err: err}
}

// Classify extracts kind and phase from err. Unclassified errors are internal.
func Classify(err error, fallback Phase) (ErrorKind, Phase) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, e.Phase
	}
	return InternalError, fallback
}
