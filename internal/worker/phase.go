// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package worker

import (
	"context"
	"time"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/progress"
)

// phaseRun owns the throttling state of one job phase
type phaseRun struct {
	w        *Worker
	ctx      context.Context
	spec     job.Spec
	phase    job.Phase
	unit     progress.Unit
	reporter *progress.Reporter
	started  time.Time
	total    float64
	final    bool
	last     progress.Status
}

func (w *Worker) newPhase(ctx context.Context, spec job.Spec, p job.Phase, unit progress.Unit, capped bool) *phaseRun {
	return &phaseRun{
		w:     w,
		ctx:   ctx,
		spec:  spec,
		phase: p,
		unit:  unit,
		reporter: progress.NewReporter(progress.Config{
			Interval:      w.interval,
			Unit:          unit,
			CapBelowFinal: capped,
			Clock:         w.now,
		}),
	}
}

func (p *phaseRun) start() {
	p.started = p.w.now()
	status := progress.Status{Label: p.phase.Label(), Unit: p.unit}
	p.w.observe(p.phase, status)
	p.report(StageStarted, status)
}

func (p *phaseRun) sample(current, total float64) {
	if total <= 0 {
		return
	}
	p.total = total
	status, ok := p.reporter.Sample(current, total, p.started, p.phase.Label())
	if !ok {
		return
	}
	if status.Final {
		p.final = true
	}
	p.last = status
	p.w.observe(p.phase, status)
	p.report(StageProgress, status)
}

// finish renders the terminal 100% sample if the phase has not already done
// so, then reports the end of the phase. Without a known total no progress
// is rendered at all.
func (p *phaseRun) finish(total float64) {
	status := progress.Status{Label: p.phase.Label(), Unit: p.unit, Percentage: 100, Final: true}
	switch {
	case p.final:
		status = p.last
	case total > 0:
		status = p.reporter.Final(total, p.started, p.phase.Label())
		p.final = true
		p.report(StageProgress, status)
	}
	p.w.observe(p.phase, status)
	p.report(StageFinished, status)
}

func (p *phaseRun) report(stage Stage, status progress.Status) {
	err := p.w.deps.Status.ReportStatus(p.ctx, p.spec, Update{Phase: p.phase, Stage: stage, Progress: status})
	if err != nil {
		p.w.logger.Debug("status update for job %s: %v", p.spec.ID, err)
	}
}
