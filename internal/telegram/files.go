// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
	"github.com/ZSC714725/encodequeue/internal/store"
	"github.com/ZSC714725/encodequeue/internal/worker"
)

// FilesConfig for NewFiles
type FilesConfig struct {
	API   API
	Token string
	// FileEndpoint is a format string taking the token and the file path.
	// Empty means tgbotapi.FileEndpoint.
	FileEndpoint string
	Client       *http.Client
	Settings     UserSettingsSource
	Logger       logger.Logger
}

// UserSettingsSource provides upload preferences of a submitter
type UserSettingsSource interface {
	UserSettings(ctx context.Context, userID int64) (store.UserSettings, error)
}

// Files downloads sources from and uploads results to Telegram. It is the
// fetcher and deliverer of Telegram jobs.
type Files struct {
	api      API
	token    string
	endpoint string
	client   *http.Client
	settings UserSettingsSource
	logger   logger.Logger
}

// NewFiles creates Files
func NewFiles(config FilesConfig) *Files {
	f := &Files{
		api:      config.API,
		token:    config.Token,
		endpoint: config.FileEndpoint,
		client:   config.Client,
		settings: config.Settings,
		logger:   config.Logger,
	}
	if f.endpoint == "" {
		f.endpoint = tgbotapi.FileEndpoint
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 2 * time.Hour}
	}
	if f.logger == nil {
		f.logger = logger.Nop()
	}
	return f
}

func (f *Files) Fetch(ctx context.Context, ref job.SourceRef, dir string, progress worker.ProgressFunc) (string, error) {
	if ref.Kind != job.SourceTelegram {
		return "", fmt.Errorf("%w: %s", worker.ErrUnsupportedSource, ref.Kind)
	}
	name := filepath.Base(ref.Name)
	if ref.Name == "" {
		name = "source"
	}
	dst, err := os.CreateTemp(dir, "*_"+name)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if err := f.download(ctx, ref.Locator, dst, float64(ref.Size), progress); err != nil {
		return "", err
	}
	return dst.Name(), dst.Close()
}

func (f *Files) download(ctx context.Context, fileID string, dst io.Writer, size float64, progress worker.ProgressFunc) error {
	file, err := f.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return fmt.Errorf("get file: %w", err)
	}
	if file.FileSize > 0 {
		size = float64(file.FileSize)
	}

	// a local Bot API server hands out paths on its own disk
	if filepath.IsAbs(file.FilePath) {
		src, err := os.Open(file.FilePath)
		if err == nil {
			defer src.Close()
			_, err = io.Copy(dst, worker.NewProgressReader(ctx, src, size, progress))
			return err
		}
	}

	url := fmt.Sprintf(f.endpoint, f.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	if size <= 0 && resp.ContentLength > 0 {
		size = float64(resp.ContentLength)
	}

	_, err = io.Copy(dst, worker.NewProgressReader(ctx, resp.Body, size, progress))
	return err
}

// Deliver uploads the artifact to the submitter's chat as a reply to the
// source message, honoring the thumbnail and document preferences.
func (f *Files) Deliver(ctx context.Context, spec job.Spec, artifact string, progress worker.ProgressFunc) (string, error) {
	if spec.ChatID == 0 {
		return "", fmt.Errorf("job %s has no chat", spec.ID)
	}

	settings := store.UserSettings{}
	if f.settings != nil {
		s, err := f.settings.UserSettings(ctx, spec.SubmitterID)
		if err != nil {
			f.logger.Warn("user settings of %d: %v", spec.SubmitterID, err)
		} else {
			settings = s
		}
	}

	src, err := os.Open(artifact)
	if err != nil {
		return "", err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return "", err
	}

	file := tgbotapi.FileReader{
		Name:   filepath.Base(artifact),
		Reader: worker.NewProgressReader(ctx, src, float64(fi.Size()), progress),
	}
	caption := "✅ Encoded successfully\n\n🎯 " + job.Describe(spec.Operation)
	thumb := f.thumbnail(ctx, settings.Thumbnail, filepath.Dir(artifact))

	var upload tgbotapi.Chattable
	switch ext := strings.ToLower(filepath.Ext(artifact)); {
	case ext == ".jpg":
		c := tgbotapi.NewPhoto(spec.ChatID, file)
		c.Caption = caption
		c.ReplyToMessageID = spec.MessageID
		upload = c
	case ext == ".m4a":
		c := tgbotapi.NewAudio(spec.ChatID, file)
		c.Caption = caption
		c.Thumb = thumb
		c.ReplyToMessageID = spec.MessageID
		upload = c
	case settings.UploadAsDocument:
		c := tgbotapi.NewDocument(spec.ChatID, file)
		c.Caption = caption
		c.Thumb = thumb
		c.ReplyToMessageID = spec.MessageID
		upload = c
	default:
		c := tgbotapi.NewVideo(spec.ChatID, file)
		c.Caption = caption
		c.Thumb = thumb
		c.SupportsStreaming = true
		c.ReplyToMessageID = spec.MessageID
		upload = c
	}

	msg, err := f.api.Send(upload)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("upload: %w", err)
	}
	return fmt.Sprintf("telegram:%d/%d", spec.ChatID, msg.MessageID), nil
}

// thumbnail downloads the saved thumbnail next to the artifact. Telegram
// does not accept file ids as thumbnails.
func (f *Files) thumbnail(ctx context.Context, fileID, dir string) tgbotapi.RequestFileData {
	if fileID == "" {
		return nil
	}
	path := filepath.Join(dir, "thumb.jpg")
	out, err := os.Create(path)
	if err != nil {
		f.logger.Warn("thumbnail: %v", err)
		return nil
	}
	defer out.Close()
	if err := f.download(ctx, fileID, out, 0, nil); err != nil {
		f.logger.Warn("thumbnail %s: %v", fileID, err)
		return nil
	}
	return tgbotapi.FilePath(path)
}
