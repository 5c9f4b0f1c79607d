// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package worker

import (
	"context"
	"sync"

	"github.com/ZSC714725/encodequeue/internal/job"
)

// DefaultHistorySize is the number of results a History keeps
const DefaultHistorySize = 100

// History remembers the most recent results by job id
type History struct {
	size    int
	results map[string]job.Result
	order   []string
	lock    sync.RWMutex
}

// NewHistory creates a history holding at most size results
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		size:    size,
		results: make(map[string]job.Result),
	}
}

func (h *History) Complete(ctx context.Context, spec job.Spec, result job.Result) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.results[result.JobID]; !ok {
		h.order = append(h.order, result.JobID)
	}
	h.results[result.JobID] = result

	for len(h.order) > h.size {
		delete(h.results, h.order[0])
		h.order = h.order[1:]
	}
}

// Get returns the result of a finished job
func (h *History) Get(id string) (job.Result, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	r, ok := h.results[id]
	return r, ok
}

// Recent returns up to n results, newest first
func (h *History) Recent(n int) []job.Result {
	h.lock.RLock()
	defer h.lock.RUnlock()

	if n <= 0 || n > len(h.order) {
		n = len(h.order)
	}
	out := make([]job.Result, 0, n)
	for i := len(h.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.results[h.order[i]])
	}
	return out
}

// Sinks fans a result out to several sinks in order
type Sinks []ResultSink

func (s Sinks) Complete(ctx context.Context, spec job.Spec, result job.Result) {
	for _, sink := range s {
		sink.Complete(ctx, spec, result)
	}
}
