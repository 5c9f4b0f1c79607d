// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
	"github.com/ZSC714725/encodequeue/internal/process"
	"github.com/ZSC714725/encodequeue/internal/progress"
	"github.com/ZSC714725/encodequeue/internal/queue"
	"github.com/ZSC714725/encodequeue/internal/store"
	"github.com/ZSC714725/encodequeue/internal/worker"
)

// Queue is the admission side of the queue service
type Queue interface {
	TryEnqueue(spec job.Spec) (queue.Ticket, error)
	Stats() queue.Stats
	Pending() []job.Spec
}

// Jobs is the control side of the worker
type Jobs interface {
	Current() (worker.Snapshot, bool)
	CancelCurrent() (job.Spec, bool)
	CancelSubmitter(submitterID int64) bool
	ClearQueue(ctx context.Context) (pending, active int)
}

// BotConfig for NewBot
type BotConfig struct {
	API      API
	Queue    Queue
	Jobs     Jobs
	Store    store.Store
	Notifier *Notifier
	// Process reports the encoder process, may be nil
	Process func() process.Status
	Logger  logger.Logger

	Admins []int64
	// FreeDailyLimit caps the encodes of non premium users per day, 0 disables
	FreeDailyLimit int
	// MaxFileSize rejects larger sources, 0 disables
	MaxFileSize int64
	Qualities   []string
}

// Media is the last source a user sent
type Media struct {
	Ref       job.SourceRef
	ChatID    int64
	MessageID int
}

// Bot turns updates into jobs and answers commands
type Bot struct {
	api       API
	queue     Queue
	jobs      Jobs
	store     store.Store
	notifier  *Notifier
	process   func() process.Status
	logger    logger.Logger
	admins    map[int64]bool
	freeLimit int
	maxSize   int64
	qualities []string

	media struct {
		last map[int64]Media
		lock sync.Mutex
	}
}

// DefaultQualities are offered on the keyboard
var DefaultQualities = []string{"144p", "240p", "360p", "480p", "720p", "1080p", "2160p"}

// NewBot creates a bot
func NewBot(config BotConfig) (*Bot, error) {
	if config.API == nil || config.Queue == nil || config.Jobs == nil || config.Store == nil {
		return nil, fmt.Errorf("bot: missing dependency")
	}
	b := &Bot{
		api:       config.API,
		queue:     config.Queue,
		jobs:      config.Jobs,
		store:     config.Store,
		notifier:  config.Notifier,
		process:   config.Process,
		logger:    config.Logger,
		admins:    make(map[int64]bool),
		freeLimit: config.FreeDailyLimit,
		maxSize:   config.MaxFileSize,
		qualities: config.Qualities,
	}
	if b.notifier == nil {
		b.notifier = NewNotifier(b.api, b.logger)
	}
	if b.logger == nil {
		b.logger = logger.Nop()
	}
	if len(b.qualities) == 0 {
		b.qualities = DefaultQualities
	}
	for _, id := range config.Admins {
		b.admins[id] = true
	}
	b.media.last = make(map[int64]Media)
	return b, nil
}

// Run receives updates until ctx is done
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("bot receiving updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("bot stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.Handle(ctx, upd)
		}
	}
}

// Handle processes one update. A panicking handler never stops the bot.
func (b *Bot) Handle(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update %d: panic: %v\n%s", upd.UpdateID, r, debug.Stack())
		}
	}()

	switch {
	case upd.Message != nil:
		b.onMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		b.onCallback(ctx, upd.CallbackQuery)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.admins[userID]
}

func (b *Bot) reply(chatID int64, replyTo int, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Warn("reply in chat %d: %v", chatID, err)
	}
	return sent, err
}

func (b *Bot) answer(cq *tgbotapi.CallbackQuery, text string, alert bool) {
	cb := tgbotapi.NewCallback(cq.ID, text)
	cb.ShowAlert = alert
	if _, err := b.api.Request(cb); err != nil {
		b.logger.Debug("answer callback: %v", err)
	}
}

func (b *Bot) onMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	if m.IsCommand() {
		b.onCommand(ctx, m)
		return
	}

	ref, ok := videoRef(m)
	if !ok {
		return
	}
	b.logger.Debug("media from %d: %s (%d bytes)", m.From.ID, ref.Name, ref.Size)

	if b.maxSize > 0 && ref.Size > b.maxSize {
		b.reply(m.Chat.ID, m.MessageID, fmt.Sprintf("⚠️ File too large, the limit is %s.", progress.HumanBytes(float64(b.maxSize))))
		return
	}

	b.remember(m.From.ID, Media{Ref: ref, ChatID: m.Chat.ID, MessageID: m.MessageID})

	msg := tgbotapi.NewMessage(m.Chat.ID, "🎯 Choose an action:")
	msg.ReplyToMessageID = m.MessageID
	msg.ReplyMarkup = b.keyboard()
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("keyboard in chat %d: %v", m.Chat.ID, err)
	}
}

func (b *Bot) remember(userID int64, media Media) {
	b.media.lock.Lock()
	defer b.media.lock.Unlock()
	b.media.last[userID] = media
}

func (b *Bot) lastMedia(userID int64) (Media, bool) {
	b.media.lock.Lock()
	defer b.media.lock.Unlock()
	m, ok := b.media.last[userID]
	return m, ok
}

func (b *Bot) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}

	op, hint, err := b.callbackOperation(ctx, cq.From.ID, cq.Data)
	if err != nil {
		b.answer(cq, "⚠️ "+err.Error(), true)
		return
	}
	if op == nil {
		b.answer(cq, hint, true)
		return
	}

	text, ok := b.enqueue(ctx, cq.From.ID, cq.Message.Chat.ID, op)
	if !ok {
		b.answer(cq, text, true)
		return
	}
	b.answer(cq, "", false)
}

// callbackOperation maps keyboard data to an operation. Buttons that need
// arguments answer with a usage hint instead.
func (b *Bot) callbackOperation(ctx context.Context, userID int64, data string) (job.Operation, string, error) {
	if q, ok := strings.CutPrefix(data, "encode_"); ok {
		return job.Quality{Name: q}, "", nil
	}

	switch data {
	case "op_remove_audio":
		return job.RemoveAudio{}, "", nil
	case "op_extract_audio":
		return job.ExtractAudio{}, "", nil
	case "op_remove_subtitle":
		return job.RemoveSubtitle{}, "", nil
	case "op_thumbnail":
		return job.ExtractThumbnail{At: defaultThumbAt}, "", nil
	case "op_watermark":
		settings, err := b.store.UserSettings(ctx, userID)
		if err != nil {
			return nil, "", err
		}
		if settings.WatermarkText == "" {
			return nil, "Set a watermark first: /setwatermark <text>", nil
		}
		return job.TextWatermark{Text: settings.WatermarkText, Position: settings.WatermarkPosition}, "", nil
	case "help_compress":
		return nil, "Send /compress <size in MB>", nil
	case "help_cut":
		return nil, "Send /cut <start> <end>, e.g. /cut 00:00:10 00:01:00", nil
	case "help_crop":
		return nil, "Send /crop <ratio>, e.g. /crop 16:9", nil
	case "help_merge":
		return nil, "Reply to another video with /merge", nil
	case "help_subtitles":
		return nil, "Reply to a subtitle file with /addsub or /addsub hard", nil
	case "help_audio":
		return nil, "Reply to an audio file with /addaudio", nil
	}
	return nil, "", fmt.Errorf("unknown action")
}

// enqueue submits op over the user's last media. It returns the text shown
// to the user and whether the job was admitted.
func (b *Bot) enqueue(ctx context.Context, userID, chatID int64, op job.Operation) (string, bool) {
	media, ok := b.lastMedia(userID)
	if !ok {
		return "⚠️ Please send a video first!", false
	}

	if text, ok := b.checkDailyLimit(ctx, userID); !ok {
		return text, false
	}

	spec := job.Spec{
		SubmitterID: userID,
		ChatID:      chatID,
		MessageID:   media.MessageID,
		Source:      media.Ref,
		SourceName:  media.Ref.Name,
		SourceSize:  media.Ref.Size,
		Operation:   op,
	}
	ticket, err := b.queue.TryEnqueue(spec)
	if err != nil {
		text := admissionText(err)
		b.logger.Info("rejected job of %d: %v", userID, err)
		return text, false
	}

	b.logger.Info("queued job %s of %d at position %d", ticket.ID, userID, ticket.Position)
	text := fmt.Sprintf("✅ Added to queue!\n\n🎯 %s\n📊 Queue position: %d\n\n⏳ Processing will start soon...",
		job.Describe(op), ticket.Position)
	sent, err := b.reply(chatID, media.MessageID, text)
	if err == nil {
		b.notifier.Track(ticket.ID, chatID, sent.MessageID)
	}
	return text, true
}

func (b *Bot) checkDailyLimit(ctx context.Context, userID int64) (string, bool) {
	if b.freeLimit <= 0 || b.isAdmin(userID) {
		return "", true
	}
	premium, err := b.store.IsPremium(ctx, userID)
	if err != nil {
		b.logger.Warn("premium of %d: %v", userID, err)
		return "", true
	}
	if premium {
		return "", true
	}
	n, err := b.store.TodayEncodes(ctx, userID)
	if err != nil {
		b.logger.Warn("today encodes of %d: %v", userID, err)
		return "", true
	}
	if n >= int64(b.freeLimit) {
		return fmt.Sprintf("⚠️ Daily limit of %d encodes reached. Upgrade to premium for unlimited encodes.", b.freeLimit), false
	}
	return "", true
}

func admissionText(err error) string {
	switch {
	case errors.Is(err, queue.ErrAlreadyActive):
		return "⚠️ You already have an active job! Please wait for it to complete."
	case errors.Is(err, queue.ErrQueueFull):
		return "⚠️ The queue is full, please try again later."
	case errors.Is(err, queue.ErrInvalidJob):
		return "❌ " + err.Error()
	}
	return "❌ Could not queue the job: " + err.Error()
}

func (b *Bot) keyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, q := range b.qualities {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("🎬 "+q, "encode_"+q))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗜 Compress", "help_compress"),
			tgbotapi.NewInlineKeyboardButtonData("✂️ Cut", "help_cut"),
			tgbotapi.NewInlineKeyboardButtonData("⬜ Crop", "help_crop"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔗 Merge", "help_merge"),
			tgbotapi.NewInlineKeyboardButtonData("💧 Watermark", "op_watermark"),
			tgbotapi.NewInlineKeyboardButtonData("🖼 Thumbnail", "op_thumbnail"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📝 Add subtitles", "help_subtitles"),
			tgbotapi.NewInlineKeyboardButtonData("🚫 Remove subtitles", "op_remove_subtitle"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔊 Add audio", "help_audio"),
			tgbotapi.NewInlineKeyboardButtonData("🎵 Extract audio", "op_extract_audio"),
			tgbotapi.NewInlineKeyboardButtonData("🔇 Remove audio", "op_remove_audio"),
		),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// videoRef extracts a video or a video document
func videoRef(m *tgbotapi.Message) (job.SourceRef, bool) {
	if m.Video != nil {
		name := m.Video.FileName
		if name == "" {
			name = fmt.Sprintf("video_%d.mp4", m.MessageID)
		}
		return job.SourceRef{Kind: job.SourceTelegram, Locator: m.Video.FileID, Name: name, Size: int64(m.Video.FileSize)}, true
	}
	if m.Document != nil && isVideoDocument(m.Document) {
		return job.SourceRef{Kind: job.SourceTelegram, Locator: m.Document.FileID, Name: m.Document.FileName, Size: int64(m.Document.FileSize)}, true
	}
	return job.SourceRef{}, false
}

func isVideoDocument(d *tgbotapi.Document) bool {
	if strings.HasPrefix(strings.ToLower(d.MimeType), "video/") {
		return true
	}
	name := strings.ToLower(d.FileName)
	for _, ext := range []string{".mp4", ".mkv", ".mov", ".avi", ".webm", ".flv", ".ts", ".m4v"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
