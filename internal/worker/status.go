// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package worker

import (
	"context"
	"errors"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
)

// LogStatus writes phase starts and ends to a logger. Progress samples are
// logged at debug level.
type LogStatus struct {
	Logger logger.Logger
}

func (l LogStatus) ReportStatus(ctx context.Context, spec job.Spec, update Update) error {
	log := l.Logger.With("job", spec.ID)
	switch update.Stage {
	case StageStarted:
		log.Info("%s started", update.Phase)
	case StageFinished:
		log.Info("%s finished", update.Phase)
	default:
		log.Debug("%s %.1f%%", update.Phase, update.Progress.Percentage)
	}
	return nil
}

// StatusSinks fans an update out to several sinks. Every sink sees every
// update; their errors are joined.
type StatusSinks []StatusSink

func (s StatusSinks) ReportStatus(ctx context.Context, spec job.Spec, update Update) error {
	var errs []error
	for _, sink := range s {
		if err := sink.ReportStatus(ctx, spec, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
