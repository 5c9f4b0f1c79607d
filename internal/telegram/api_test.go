// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package telegram

import (
	"fmt"
	"io"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeAPI records everything sent to Telegram
type fakeAPI struct {
	lock     sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	uploaded map[string][]byte
	nextID   int
	files    map[string]tgbotapi.File
	updates  chan tgbotapi.Update
	stopped  bool

	// sendErr fails a Send when it returns an error
	sendErr func(c tgbotapi.Chattable) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		uploaded: make(map[string][]byte),
		nextID:   100,
		files:    make(map[string]tgbotapi.File),
		updates:  make(chan tgbotapi.Update, 10),
	}
}

func (a *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	a.sent = append(a.sent, c)
	if a.sendErr != nil {
		if err := a.sendErr(c); err != nil {
			return tgbotapi.Message{}, err
		}
	}

	var file tgbotapi.RequestFileData
	switch u := c.(type) {
	case tgbotapi.VideoConfig:
		file = u.File
	case tgbotapi.DocumentConfig:
		file = u.File
	case tgbotapi.AudioConfig:
		file = u.File
	case tgbotapi.PhotoConfig:
		file = u.File
	}
	if fr, ok := file.(tgbotapi.FileReader); ok {
		data, err := io.ReadAll(fr.Reader)
		if err != nil {
			return tgbotapi.Message{}, err
		}
		a.uploaded[fr.Name] = data
	}

	a.nextID++
	return tgbotapi.Message{MessageID: a.nextID}, nil
}

func (a *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.requests = append(a.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (a *fakeAPI) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	f, ok := a.files[config.FileID]
	if !ok {
		return tgbotapi.File{}, fmt.Errorf("Bad Request: file %s not found", config.FileID)
	}
	return f, nil
}

func (a *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return a.updates
}

func (a *fakeAPI) StopReceivingUpdates() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.stopped = true
}

func (a *fakeAPI) sentMessages() []tgbotapi.Chattable {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]tgbotapi.Chattable(nil), a.sent...)
}

func (a *fakeAPI) sentRequests() []tgbotapi.Chattable {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]tgbotapi.Chattable(nil), a.requests...)
}

// texts returns the text of every new message sent, in order
func (a *fakeAPI) texts() []string {
	var texts []string
	for _, c := range a.sentMessages() {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

func (a *fakeAPI) lastText() string {
	texts := a.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}
