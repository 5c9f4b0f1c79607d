// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package store

import (
	"context"
	"sync"
)

type memory struct {
	defaults Defaults

	users   map[int64]UserSettings
	encoder *EncoderSettings
	premium map[int64]Premium
	records []EncodeRecord
	seen    map[int64]struct{}

	lock sync.RWMutex
}

// NewMemory creates a store that lives as long as the process
func NewMemory(defaults Defaults) Store {
	return &memory{
		defaults: defaults.withFallbacks(),
		users:    make(map[int64]UserSettings),
		premium:  make(map[int64]Premium),
		seen:     make(map[int64]struct{}),
	}
}

func (m *memory) UserSettings(ctx context.Context, userID int64) (UserSettings, error) {
	if userID <= 0 {
		return UserSettings{}, ErrInvalidUser
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	if s, ok := m.users[userID]; ok {
		return s, nil
	}
	return m.defaults.user(), nil
}

func (m *memory) SaveUserSettings(ctx context.Context, userID int64, settings UserSettings) error {
	if userID <= 0 {
		return ErrInvalidUser
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.users[userID] = settings
	m.seen[userID] = struct{}{}
	return nil
}

func (m *memory) EncoderSettings(ctx context.Context) (EncoderSettings, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.encoder != nil {
		return *m.encoder, nil
	}
	return m.defaults.Encoder, nil
}

func (m *memory) SaveEncoderSettings(ctx context.Context, settings EncoderSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.encoder = &settings
	return nil
}

func (m *memory) AddPremium(ctx context.Context, userID int64, days int) (Premium, error) {
	if userID <= 0 {
		return Premium{}, ErrInvalidUser
	}
	if days <= 0 {
		days = 30
	}
	now := m.defaults.Clock()
	p := Premium{UserID: userID, Added: now, Expires: now.AddDate(0, 0, days)}

	m.lock.Lock()
	defer m.lock.Unlock()
	m.premium[userID] = p
	return p, nil
}

func (m *memory) RemovePremium(ctx context.Context, userID int64) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.premium, userID)
	return nil
}

func (m *memory) IsPremium(ctx context.Context, userID int64) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	p, ok := m.premium[userID]
	if !ok {
		return false, nil
	}
	if p.Expires.Before(m.defaults.Clock()) {
		delete(m.premium, userID)
		return false, nil
	}
	return true, nil
}

func (m *memory) RecordEncode(ctx context.Context, record EncodeRecord) error {
	if record.UserID <= 0 {
		return ErrInvalidUser
	}
	if record.At.IsZero() {
		record.At = m.defaults.Clock()
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.records = append(m.records, record)
	m.seen[record.UserID] = struct{}{}
	return nil
}

func (m *memory) TodayEncodes(ctx context.Context, userID int64) (int64, error) {
	since := startOfDay(m.defaults.Clock())

	m.lock.RLock()
	defer m.lock.RUnlock()
	var n int64
	for _, r := range m.records {
		if r.UserID == userID && !r.At.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memory) Stats(ctx context.Context) (Stats, error) {
	now := m.defaults.Clock()

	m.lock.RLock()
	defer m.lock.RUnlock()
	s := Stats{
		TotalEncodes: int64(len(m.records)),
		Users:        int64(len(m.seen)),
		ByOperation:  make(map[string]int64),
	}
	for _, r := range m.records {
		s.TotalBytes += r.Size
		s.ByOperation[r.Operation]++
	}
	for _, p := range m.premium {
		if !p.Expires.Before(now) {
			s.Premium++
		}
	}
	return s, nil
}

func (m *memory) Close() error { return nil }
