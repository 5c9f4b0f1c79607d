// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
	"github.com/ZSC714725/encodequeue/internal/worker"
)

type statusMessage struct {
	chatID    int64
	messageID int
}

// Notifier keeps one status message per job up to date. It is the status
// and result sink of the worker for jobs that came in through the bot.
type Notifier struct {
	api    API
	logger logger.Logger

	messages map[string]statusMessage
	lock     sync.Mutex
}

// NewNotifier creates a Notifier
func NewNotifier(api API, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{
		api:      api,
		logger:   log,
		messages: make(map[string]statusMessage),
	}
}

// Track registers the message that shows the status of a job. A job that
// already reported a status keeps its message.
func (n *Notifier) Track(jobID string, chatID int64, messageID int) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if _, ok := n.messages[jobID]; !ok {
		n.messages[jobID] = statusMessage{chatID: chatID, messageID: messageID}
	}
}

func (n *Notifier) replace(jobID string, chatID int64, messageID int) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.messages[jobID] = statusMessage{chatID: chatID, messageID: messageID}
}

func (n *Notifier) tracked(jobID string) (statusMessage, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	m, ok := n.messages[jobID]
	return m, ok
}

func (n *Notifier) forget(jobID string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	delete(n.messages, jobID)
}

func (n *Notifier) ReportStatus(ctx context.Context, spec job.Spec, update worker.Update) error {
	if spec.ChatID == 0 || update.Stage == worker.StageFinished {
		return nil
	}
	return n.show(spec, statusText(spec, update))
}

func (n *Notifier) Complete(ctx context.Context, spec job.Spec, result job.Result) {
	if spec.ChatID == 0 {
		return
	}
	defer n.forget(spec.ID)

	switch result.Status {
	case job.StatusSucceeded:
		m, ok := n.tracked(spec.ID)
		if !ok {
			return
		}
		if _, err := n.api.Request(tgbotapi.NewDeleteMessage(m.chatID, m.messageID)); err != nil {
			n.logger.Debug("delete status of job %s: %v", spec.ID, err)
		}
	case job.StatusCancelled:
		if err := n.show(spec, "🚫 Cancelled\n\n"+spec.SourceName); err != nil {
			n.logger.Warn("result of job %s: %v", spec.ID, err)
		}
	default:
		if err := n.show(spec, failureText(spec, result)); err != nil {
			n.logger.Warn("result of job %s: %v", spec.ID, err)
		}
	}
}

// show edits the status message and falls back to a new message when the
// edit is not possible
func (n *Notifier) show(spec job.Spec, text string) error {
	err := n.edit(spec, text)
	var de *DeliveryError
	if !errors.As(err, &de) {
		return err
	}
	n.logger.Debug("%v, sending a new status message", de)

	msg := tgbotapi.NewMessage(spec.ChatID, text)
	msg.ReplyToMessageID = spec.MessageID
	sent, err := n.api.Send(msg)
	if err != nil {
		return &DeliveryError{Op: "send", ChatID: spec.ChatID, Err: err}
	}
	n.replace(spec.ID, spec.ChatID, sent.MessageID)
	return nil
}

func (n *Notifier) edit(spec job.Spec, text string) error {
	m, ok := n.tracked(spec.ID)
	if !ok {
		return &DeliveryError{Op: "edit", ChatID: spec.ChatID, Err: errors.New("no status message")}
	}
	_, err := n.api.Send(tgbotapi.NewEditMessageText(m.chatID, m.messageID, text))
	if err == nil || isNotModified(err) {
		return nil
	}
	return &DeliveryError{Op: "edit", ChatID: m.chatID, Err: err}
}

func statusText(spec job.Spec, update worker.Update) string {
	var text string
	if update.Stage == worker.StageStarted {
		text = fmt.Sprintf("%s\n\n%s\n\n⏳ Starting…", update.Phase.Label(), spec.SourceName)
	} else {
		text = update.Progress.Text(spec.SourceName)
	}
	if update.Phase == job.PhaseTranscode {
		text += "\n\n🎯 " + job.Describe(spec.Operation)
	}
	return text + fmt.Sprintf("\n\n/cancel · job %s", spec.ID)
}

func failureText(spec job.Spec, result job.Result) string {
	return fmt.Sprintf("❌ %s failed (%s)\n\n%s\n\n%s",
		result.Phase.Label(), result.Kind, spec.SourceName, truncate(result.Message, 500))
}
