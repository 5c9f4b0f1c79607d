// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列
//
// Package telegram is the chat transport: it turns bot updates into jobs,
// downloads sources, uploads results and keeps the status message of every
// job current.

package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// API is the subset of *tgbotapi.BotAPI the transport uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Connect authorizes the bot. An empty endpoint uses the public Bot API.
func Connect(token, endpoint string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("no bot token given")
	}
	if endpoint == "" {
		return tgbotapi.NewBotAPI(token)
	}
	return tgbotapi.NewBotAPIWithAPIEndpoint(token, strings.TrimRight(endpoint, "/")+"/bot%s/%s")
}

// DeliveryError is returned when a status message can't be edited or sent.
// Callers fall back to sending a fresh message.
type DeliveryError struct {
	Op     string
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram %s in chat %d: %v", e.Op, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Telegram rejects edits that don't change the text
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
