// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package telegram

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/progress"
	"github.com/ZSC714725/encodequeue/internal/store"
)

const (
	defaultThumbAt     = "00:00:05"
	defaultPremiumDays = 30
	maxWatermarkRunes  = 100
)

const helpText = `🎬 *Video Encoder Bot*

Send a video and pick an action from the keyboard.

*Operations on your last video*
/compress <MB> - compress to a target size
/cut <start> <end> - trim, e.g. /cut 00:00:10 00:01:00
/crop <ratio> - change aspect ratio, e.g. /crop 16:9
/thumb [time] - extract a frame
/watermark - draw your watermark text

*Reply commands*
/merge - reply to another video to append it
/addaudio - reply to an audio file to replace the audio
/addsub [hard] - reply to a subtitle file
/logo [position] - reply to an image to overlay it

*Settings*
/setwatermark <text> [position]
/setthumb - reply to a photo
/delthumb
/asdoc - toggle upload as document
/cancel - cancel your running job`

const adminHelpText = `👑 *Admin*
/queue /clear /status /stats
/codec <name> /preset <name> /crf <0-51> /audio <bitrate>
/addpremium <id> [days] /rmpremium <id>`

func (b *Bot) onCommand(ctx context.Context, m *tgbotapi.Message) {
	userID := m.From.ID
	args := strings.Fields(m.CommandArguments())

	switch cmd := m.Command(); cmd {
	case "start", "help":
		text := helpText
		if b.isAdmin(userID) {
			text += "\n\n" + adminHelpText
		}
		msg := tgbotapi.NewMessage(m.Chat.ID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Warn("help in chat %d: %v", m.Chat.ID, err)
		}
	case "compress", "cut", "crop", "thumb", "watermark", "merge", "addaudio", "addsub", "logo":
		op, err := b.commandOperation(ctx, m, cmd, args)
		if err != nil {
			b.reply(m.Chat.ID, m.MessageID, "⚠️ "+err.Error())
			return
		}
		if text, ok := b.enqueue(ctx, userID, m.Chat.ID, op); !ok {
			b.reply(m.Chat.ID, m.MessageID, text)
		}
	case "setwatermark":
		b.setWatermark(ctx, m, args)
	case "setthumb":
		b.setThumbnail(ctx, m)
	case "delthumb":
		b.updateSettings(ctx, m, "🗑 Thumbnail removed.", func(s *store.UserSettings) { s.Thumbnail = "" })
	case "asdoc":
		var doc bool
		b.updateSettings(ctx, m, "", func(s *store.UserSettings) {
			s.UploadAsDocument = !s.UploadAsDocument
			doc = s.UploadAsDocument
		})
		if doc {
			b.reply(m.Chat.ID, m.MessageID, "📄 Results will be uploaded as documents.")
		} else {
			b.reply(m.Chat.ID, m.MessageID, "🎬 Results will be uploaded as videos.")
		}
	case "cancel":
		if b.jobs.CancelSubmitter(userID) {
			b.reply(m.Chat.ID, m.MessageID, "🚫 Cancelling your job...")
		} else {
			b.reply(m.Chat.ID, m.MessageID, "ℹ️ You have no running job.")
		}
	default:
		if b.isAdmin(userID) {
			b.onAdminCommand(ctx, m, cmd, args)
		}
	}
}

// commandOperation builds the operation of a command over the last media
func (b *Bot) commandOperation(ctx context.Context, m *tgbotapi.Message, cmd string, args []string) (job.Operation, error) {
	switch cmd {
	case "compress":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: /compress <size in MB>")
		}
		mb, err := strconv.Atoi(args[0])
		if err != nil || mb <= 0 {
			return nil, fmt.Errorf("invalid size %q", args[0])
		}
		return job.Compress{TargetMB: mb}, nil
	case "cut":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: /cut <start> <end>")
		}
		return job.Trim{Start: args[0], End: args[1]}, nil
	case "crop":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: /crop <ratio>, e.g. /crop 16:9")
		}
		return job.ChangeAspect{Ratio: args[0]}, nil
	case "thumb":
		at := defaultThumbAt
		if len(args) > 0 {
			at = args[0]
		}
		return job.ExtractThumbnail{At: at}, nil
	case "watermark":
		settings, err := b.store.UserSettings(ctx, m.From.ID)
		if err != nil {
			return nil, err
		}
		if settings.WatermarkText == "" {
			return nil, fmt.Errorf("set a watermark first: /setwatermark <text>")
		}
		return job.TextWatermark{Text: settings.WatermarkText, Position: settings.WatermarkPosition}, nil
	}

	// the rest reply to the extra input
	reply := m.ReplyToMessage
	if reply == nil {
		return nil, fmt.Errorf("reply to a file with /%s", cmd)
	}

	switch cmd {
	case "merge":
		ref, ok := videoRef(reply)
		if !ok {
			return nil, fmt.Errorf("reply to a video with /merge")
		}
		return job.Merge{Parts: []job.SourceRef{ref}}, nil
	case "addaudio":
		ref, ok := audioRef(reply)
		if !ok {
			return nil, fmt.Errorf("reply to an audio file with /addaudio")
		}
		return job.AddAudio{Audio: ref}, nil
	case "addsub":
		ref, ok := subtitleRef(reply)
		if !ok {
			return nil, fmt.Errorf("reply to a .srt, .ass or .vtt file with /addsub")
		}
		mode := job.SubtitleSoft
		if len(args) > 0 && args[0] == job.SubtitleHard {
			mode = job.SubtitleHard
		}
		return job.AddSubtitle{Subtitle: ref, Mode: mode}, nil
	case "logo":
		ref, ok := imageRef(reply)
		if !ok {
			return nil, fmt.Errorf("reply to an image with /logo")
		}
		pos := job.PositionBottomRight
		if len(args) > 0 {
			pos = args[0]
		}
		return job.LogoWatermark{Logo: ref, Position: pos}, nil
	}
	return nil, fmt.Errorf("unknown command /%s", cmd)
}

func (b *Bot) setWatermark(ctx context.Context, m *tgbotapi.Message, args []string) {
	if len(args) == 0 {
		b.reply(m.Chat.ID, m.MessageID, "Usage: /setwatermark <text> [position]\nPositions: top_left, top_right, bottom_left, bottom_right, center")
		return
	}

	position := ""
	if last := args[len(args)-1]; len(args) > 1 && isPosition(last) {
		position = last
		args = args[:len(args)-1]
	}
	text := strings.Join(args, " ")
	if len([]rune(text)) > maxWatermarkRunes {
		b.reply(m.Chat.ID, m.MessageID, fmt.Sprintf("⚠️ Watermark text is limited to %d characters.", maxWatermarkRunes))
		return
	}

	b.updateSettings(ctx, m, "💧 Watermark set: "+text, func(s *store.UserSettings) {
		s.WatermarkText = text
		if position != "" {
			s.WatermarkPosition = position
		}
	})
}

func (b *Bot) setThumbnail(ctx context.Context, m *tgbotapi.Message) {
	reply := m.ReplyToMessage
	if reply == nil || len(reply.Photo) == 0 {
		b.reply(m.Chat.ID, m.MessageID, "Reply to a photo with /setthumb")
		return
	}
	// the last size is the largest
	fileID := reply.Photo[len(reply.Photo)-1].FileID
	b.updateSettings(ctx, m, "🖼 Thumbnail saved.", func(s *store.UserSettings) { s.Thumbnail = fileID })
}

// updateSettings applies fn to the stored user settings and confirms with
// done unless it is empty.
func (b *Bot) updateSettings(ctx context.Context, m *tgbotapi.Message, done string, fn func(*store.UserSettings)) {
	settings, err := b.store.UserSettings(ctx, m.From.ID)
	if err != nil {
		b.logger.Error("user settings of %d: %v", m.From.ID, err)
		b.reply(m.Chat.ID, m.MessageID, "❌ Could not load your settings.")
		return
	}
	fn(&settings)
	if err := b.store.SaveUserSettings(ctx, m.From.ID, settings); err != nil {
		b.logger.Error("save user settings of %d: %v", m.From.ID, err)
		b.reply(m.Chat.ID, m.MessageID, "❌ Could not save your settings.")
		return
	}
	if done != "" {
		b.reply(m.Chat.ID, m.MessageID, done)
	}
}

func (b *Bot) onAdminCommand(ctx context.Context, m *tgbotapi.Message, cmd string, args []string) {
	var text string
	switch cmd {
	case "queue":
		text = b.queueText()
	case "clear":
		pending, active := b.jobs.ClearQueue(ctx)
		b.logger.Info("admin %d cleared the queue (%d pending, %d active)", m.From.ID, pending, active)
		text = fmt.Sprintf("🗑 Queue cleared: %d pending, %d active entries removed.", pending, active)
	case "status":
		text = b.statusText()
	case "stats":
		text = b.statsText(ctx)
	case "codec", "preset", "crf", "audio":
		text = b.setEncoder(ctx, cmd, args)
	case "addpremium":
		text = b.addPremium(ctx, args)
	case "rmpremium":
		text = b.removePremium(ctx, args)
	default:
		return
	}
	b.reply(m.Chat.ID, m.MessageID, text)
}

func (b *Bot) queueText() string {
	stats := b.queue.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *Queue*\n\nPending: %d / %d\nActive: %d\n", stats.Pending, stats.Capacity, stats.Active)
	for i, spec := range b.queue.Pending() {
		fmt.Fprintf(&sb, "\n%d. %s · %s · user %d", i+1, spec.SourceName, job.Describe(spec.Operation), spec.SubmitterID)
	}
	return sb.String()
}

func (b *Bot) statusText() string {
	snap, ok := b.jobs.Current()
	if !ok {
		return "💤 Idle"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⚙️ Job %s\n👤 user %d\n🎯 %s\n📍 %s\n⏱ running %s",
		snap.Spec.ID, snap.Spec.SubmitterID, job.Describe(snap.Spec.Operation),
		snap.Phase.Label(), progress.FormatDuration(time.Since(snap.StartedAt)))
	if snap.Progress.Total > 0 {
		fmt.Fprintf(&sb, "\n📊 %.1f%%", snap.Progress.Percentage)
	}
	if b.process != nil {
		if ps := b.process(); ps.Running {
			fmt.Fprintf(&sb, "\n🖥 pid %d · CPU %.1f%% · RAM %s", ps.Pid, ps.CPU, progress.HumanBytes(float64(ps.Memory)))
			if ps.Stats.Frame > 0 {
				fmt.Fprintf(&sb, "\n🎞 frame %d · %.1f fps · %.2fx", ps.Stats.Frame, ps.Stats.FPS, ps.Stats.Speed)
			}
		}
	}
	return sb.String()
}

func (b *Bot) statsText(ctx context.Context) string {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		b.logger.Error("stats: %v", err)
		return "❌ Could not load stats."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📈 *Stats*\n\nEncodes: %d\nData: %s\nUsers: %d\nPremium: %d\n",
		stats.TotalEncodes, progress.HumanBytes(float64(stats.TotalBytes)), stats.Users, stats.Premium)

	ops := make([]string, 0, len(stats.ByOperation))
	for op := range stats.ByOperation {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(&sb, "\n%s: %d", op, stats.ByOperation[op])
	}
	return sb.String()
}

func (b *Bot) setEncoder(ctx context.Context, cmd string, args []string) string {
	settings, err := b.store.EncoderSettings(ctx)
	if err != nil {
		return "❌ " + err.Error()
	}
	if len(args) != 1 {
		return fmt.Sprintf("Current: codec %s, preset %s, crf %d, audio %s\nUsage: /%s <value>",
			settings.Codec, settings.Preset, settings.CRF, settings.AudioBitrate, cmd)
	}

	switch cmd {
	case "codec":
		settings.Codec = args[0]
	case "preset":
		settings.Preset = args[0]
	case "crf":
		crf, err := strconv.Atoi(args[0])
		if err != nil {
			return "⚠️ CRF must be a number between 0 and 51."
		}
		settings.CRF = crf
	case "audio":
		settings.AudioBitrate = args[0]
	}

	if err := b.store.SaveEncoderSettings(ctx, settings); err != nil {
		return "⚠️ " + err.Error()
	}
	return fmt.Sprintf("✅ Encoder: codec %s, preset %s, crf %d, audio %s",
		settings.Codec, settings.Preset, settings.CRF, settings.AudioBitrate)
}

func (b *Bot) addPremium(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /addpremium <user id> [days]"
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "⚠️ Invalid user id."
	}
	days := defaultPremiumDays
	if len(args) > 1 {
		if days, err = strconv.Atoi(args[1]); err != nil || days <= 0 {
			return "⚠️ Invalid number of days."
		}
	}

	p, err := b.store.AddPremium(ctx, userID, days)
	if err != nil {
		return "❌ " + err.Error()
	}
	return fmt.Sprintf("👑 User %d is premium until %s.", p.UserID, p.Expires.Format("2006-01-02"))
}

func (b *Bot) removePremium(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /rmpremium <user id>"
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "⚠️ Invalid user id."
	}
	if err := b.store.RemovePremium(ctx, userID); err != nil {
		return "❌ " + err.Error()
	}
	return fmt.Sprintf("User %d is no longer premium.", userID)
}

func isPosition(s string) bool {
	switch s {
	case job.PositionTopLeft, job.PositionTopRight, job.PositionBottomLeft, job.PositionBottomRight, job.PositionCenter:
		return true
	}
	return false
}

func audioRef(m *tgbotapi.Message) (job.SourceRef, bool) {
	if m.Audio != nil {
		name := m.Audio.FileName
		if name == "" {
			name = "audio.m4a"
		}
		return job.SourceRef{Kind: job.SourceTelegram, Locator: m.Audio.FileID, Name: name, Size: int64(m.Audio.FileSize)}, true
	}
	if m.Voice != nil {
		return job.SourceRef{Kind: job.SourceTelegram, Locator: m.Voice.FileID, Name: "voice.ogg", Size: int64(m.Voice.FileSize)}, true
	}
	if m.Document != nil && strings.HasPrefix(m.Document.MimeType, "audio/") {
		return job.SourceRef{Kind: job.SourceTelegram, Locator: m.Document.FileID, Name: m.Document.FileName, Size: int64(m.Document.FileSize)}, true
	}
	return job.SourceRef{}, false
}

func subtitleRef(m *tgbotapi.Message) (job.SourceRef, bool) {
	if m.Document == nil {
		return job.SourceRef{}, false
	}
	switch strings.ToLower(filepath.Ext(m.Document.FileName)) {
	case ".srt", ".ass", ".ssa", ".vtt":
		return job.SourceRef{Kind: job.SourceTelegram, Locator: m.Document.FileID, Name: m.Document.FileName, Size: int64(m.Document.FileSize)}, true
	}
	return job.SourceRef{}, false
}

func imageRef(m *tgbotapi.Message) (job.SourceRef, bool) {
	if len(m.Photo) > 0 {
		p := m.Photo[len(m.Photo)-1]
		return job.SourceRef{Kind: job.SourceTelegram, Locator: p.FileID, Name: "logo.jpg", Size: int64(p.FileSize)}, true
	}
	if m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/") {
		return job.SourceRef{Kind: job.SourceTelegram, Locator: m.Document.FileID, Name: m.Document.FileName, Size: int64(m.Document.FileSize)}, true
	}
	return job.SourceRef{}, false
}
