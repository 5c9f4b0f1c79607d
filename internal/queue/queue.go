// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列
//
// Package queue is the bounded FIFO mailbox of pending jobs together with the
// set of submitters whose job is currently executing.

package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZSC714725/encodequeue/internal/job"

	"github.com/lithammer/shortuuid/v4"
)

// DefaultCapacity is used when Config.Capacity is not positive
const DefaultCapacity = 10

// Config for a Service
type Config struct {
	Capacity int
	Clock    func() time.Time
}

// Ticket is handed back on successful admission
type Ticket struct {
	ID       string `json:"id"`
	Sequence uint64 `json:"sequence"`
	Position int    `json:"position"`
}

// Stats is a point in time view of the queue
type Stats struct {
	Pending          int     `json:"pending"`
	Active           int     `json:"active"`
	Capacity         int     `json:"capacity"`
	ActiveSubmitters []int64 `json:"active_submitters"`
	NextSequence     uint64  `json:"next_sequence"`
}

// Service owns the pending mailbox and the ActiveSet. A submitter is in
// exactly one of pending or active, or in neither. Both are guarded by mu so
// the check-then-insert in TryEnqueue is atomic.
type Service struct {
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	pending []job.Spec
	queued  map[int64]uint64
	active  map[int64]uint64
	seq     uint64

	notify chan struct{}
}

// New creates a queue service
func New(config Config) *Service {
	s := &Service{
		capacity: config.Capacity,
		now:      config.Clock,
		queued:   make(map[int64]uint64),
		active:   make(map[int64]uint64),
		notify:   make(chan struct{}, 1),
	}
	if s.capacity <= 0 {
		s.capacity = DefaultCapacity
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TryEnqueue admits spec or rejects it with an *AdmissionError. A submitter
// that already has a pending or an executing job is rejected with
// ErrAlreadyActive.
func (s *Service) TryEnqueue(spec job.Spec) (Ticket, error) {
	if spec.Operation == nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidJob, job.ErrNoOperation)
	}
	if err := spec.Operation.Validate(); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[spec.SubmitterID]; ok {
		return Ticket{}, &AdmissionError{Reason: ErrAlreadyActive, SubmitterID: spec.SubmitterID}
	}
	if _, ok := s.queued[spec.SubmitterID]; ok {
		return Ticket{}, &AdmissionError{Reason: ErrAlreadyActive, SubmitterID: spec.SubmitterID}
	}
	if len(s.pending) >= s.capacity {
		return Ticket{}, &AdmissionError{Reason: ErrQueueFull, SubmitterID: spec.SubmitterID}
	}

	if len(spec.ID) == 0 {
		spec.ID = shortuuid.New()
	}
	s.seq++
	spec.Sequence = s.seq
	spec.QueuedAt = s.now()

	s.pending = append(s.pending, spec)
	s.queued[spec.SubmitterID] = spec.Sequence
	s.signal()

	return Ticket{ID: spec.ID, Sequence: spec.Sequence, Position: len(s.pending)}, nil
}

// Dequeue blocks until a job is available or ctx is done. The job's
// submitter is moved into the ActiveSet in the same critical section as the
// pop, so the caller owns a Release for it.
func (s *Service) Dequeue(ctx context.Context) (job.Spec, error) {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			spec := s.pending[0]
			s.pending[0] = job.Spec{}
			s.pending = s.pending[1:]
			delete(s.queued, spec.SubmitterID)
			s.active[spec.SubmitterID] = spec.Sequence
			if len(s.pending) > 0 {
				s.signal()
			}
			s.mu.Unlock()
			return spec, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return job.Spec{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Release removes submitterID from the ActiveSet if the entry still belongs
// to sequence. It reports whether an entry was removed.
func (s *Service) Release(submitterID int64, sequence uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.active[submitterID]; !ok || seq != sequence {
		return false
	}
	delete(s.active, submitterID)
	return true
}

// Clear drops every pending job and empties the ActiveSet. The dropped jobs
// are returned in queue order. A job that is already executing keeps running.
func (s *Service) Clear() (drained []job.Spec, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained, active = s.pending, len(s.active)
	s.pending = nil
	s.queued = make(map[int64]uint64)
	s.active = make(map[int64]uint64)
	return drained, active
}

// Position is the 1-based pending position of the submitter's job, 0 if the
// submitter has nothing pending.
func (s *Service) Position(submitterID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queued[submitterID]; !ok {
		return 0
	}
	for i, spec := range s.pending {
		if spec.SubmitterID == submitterID {
			return i + 1
		}
	}
	return 0
}

// Find returns the pending job with the given id and its position
func (s *Service) Find(id string) (job.Spec, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, spec := range s.pending {
		if spec.ID == id {
			return spec, i + 1, true
		}
	}
	return job.Spec{}, 0, false
}

// IsActive reports whether the submitter has an executing job
func (s *Service) IsActive(submitterID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[submitterID]
	return ok
}

// Pending returns a copy of the mailbox in FIFO order
func (s *Service) Pending() []job.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]job.Spec, len(s.pending))
	copy(out, s.pending)
	return out
}

// Stats returns counters for the operator surface
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Pending:          len(s.pending),
		Active:           len(s.active),
		Capacity:         s.capacity,
		ActiveSubmitters: make([]int64, 0, len(s.active)),
		NextSequence:     s.seq + 1,
	}
	for id := range s.active {
		st.ActiveSubmitters = append(st.ActiveSubmitters, id)
	}
	sort.Slice(st.ActiveSubmitters, func(i, j int) bool {
		return st.ActiveSubmitters[i] < st.ActiveSubmitters[j]
	})
	return st
}

func (s *Service) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
