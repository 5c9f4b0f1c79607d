// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "encq:"

func keyUser(id int64) string    { return fmt.Sprintf("%suser:%d", keyPrefix, id) }
func keyPremium(id int64) string { return fmt.Sprintf("%spremium:%d", keyPrefix, id) }
func keyToday(id int64, ymd string) string {
	return fmt.Sprintf("%stoday:%d:%s", keyPrefix, id, ymd)
}

var (
	keyEncoder     = keyPrefix + "encoder"
	keyPremiumSet  = keyPrefix + "premium"
	keyUsers       = keyPrefix + "users"
	keyTotal       = keyPrefix + "stats:total"
	keyBytes       = keyPrefix + "stats:bytes"
	keyByOperation = keyPrefix + "stats:operations"
)

// RedisConfig for NewRedis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Defaults Defaults
}

type redisStore struct {
	rdb      *redis.Client
	defaults Defaults
}

// NewRedis connects to Redis and checks the connection
func NewRedis(ctx context.Context, config RedisConfig) (Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", config.Addr, err)
	}
	return NewRedisWithClient(rdb, config.Defaults), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(rdb *redis.Client, defaults Defaults) Store {
	return &redisStore{rdb: rdb, defaults: defaults.withFallbacks()}
}

func (r *redisStore) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *redisStore) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key, b, ttl).Err()
}

func (r *redisStore) UserSettings(ctx context.Context, userID int64) (UserSettings, error) {
	if userID <= 0 {
		return UserSettings{}, ErrInvalidUser
	}
	s := r.defaults.user()
	if _, err := r.getJSON(ctx, keyUser(userID), &s); err != nil {
		return UserSettings{}, err
	}
	return s, nil
}

func (r *redisStore) SaveUserSettings(ctx context.Context, userID int64, settings UserSettings) error {
	if userID <= 0 {
		return ErrInvalidUser
	}
	if err := r.setJSON(ctx, keyUser(userID), settings, 0); err != nil {
		return err
	}
	return r.rdb.SAdd(ctx, keyUsers, userID).Err()
}

func (r *redisStore) EncoderSettings(ctx context.Context) (EncoderSettings, error) {
	s := r.defaults.Encoder
	if _, err := r.getJSON(ctx, keyEncoder, &s); err != nil {
		return EncoderSettings{}, err
	}
	return s, nil
}

func (r *redisStore) SaveEncoderSettings(ctx context.Context, settings EncoderSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return r.setJSON(ctx, keyEncoder, settings, 0)
}

func (r *redisStore) AddPremium(ctx context.Context, userID int64, days int) (Premium, error) {
	if userID <= 0 {
		return Premium{}, ErrInvalidUser
	}
	if days <= 0 {
		days = 30
	}
	now := r.defaults.Clock()
	p := Premium{UserID: userID, Added: now, Expires: now.AddDate(0, 0, days)}

	b, err := json.Marshal(p)
	if err != nil {
		return Premium{}, err
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPremium(userID), b, p.Expires.Sub(now))
		pipe.SAdd(ctx, keyPremiumSet, userID)
		return nil
	})
	if err != nil {
		return Premium{}, err
	}
	return p, nil
}

func (r *redisStore) RemovePremium(ctx context.Context, userID int64) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyPremium(userID))
		pipe.SRem(ctx, keyPremiumSet, userID)
		return nil
	})
	return err
}

func (r *redisStore) IsPremium(ctx context.Context, userID int64) (bool, error) {
	var p Premium
	ok, err := r.getJSON(ctx, keyPremium(userID), &p)
	if err != nil {
		return false, err
	}
	if !ok || p.Expires.Before(r.defaults.Clock()) {
		// the key expired on its own, keep the set in step
		r.rdb.SRem(ctx, keyPremiumSet, userID)
		return false, nil
	}
	return true, nil
}

func (r *redisStore) RecordEncode(ctx context.Context, record EncodeRecord) error {
	if record.UserID <= 0 {
		return ErrInvalidUser
	}
	if record.At.IsZero() {
		record.At = r.defaults.Clock()
	}
	today := keyToday(record.UserID, record.At.Format("20060102"))
	ttl := startOfDay(record.At).AddDate(0, 0, 1).Sub(record.At)

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, keyTotal)
		pipe.IncrBy(ctx, keyBytes, record.Size)
		pipe.HIncrBy(ctx, keyByOperation, record.Operation, 1)
		pipe.SAdd(ctx, keyUsers, record.UserID)
		pipe.Incr(ctx, today)
		pipe.Expire(ctx, today, ttl)
		return nil
	})
	return err
}

func (r *redisStore) TodayEncodes(ctx context.Context, userID int64) (int64, error) {
	n, err := r.rdb.Get(ctx, keyToday(userID, r.defaults.Clock().Format("20060102"))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *redisStore) Stats(ctx context.Context) (Stats, error) {
	pipe := r.rdb.Pipeline()
	total := pipe.Get(ctx, keyTotal)
	bytes := pipe.Get(ctx, keyBytes)
	ops := pipe.HGetAll(ctx, keyByOperation)
	users := pipe.SCard(ctx, keyUsers)
	premium := pipe.SMembers(ctx, keyPremiumSet)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, err
	}

	s := Stats{ByOperation: make(map[string]int64)}
	s.TotalEncodes, _ = total.Int64()
	s.TotalBytes, _ = bytes.Int64()
	s.Users = users.Val()
	for op, v := range ops.Val() {
		n, _ := strconv.ParseInt(v, 10, 64)
		s.ByOperation[op] = n
	}
	for _, member := range premium.Val() {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		if ok, _ := r.IsPremium(ctx, id); ok {
			s.Premium++
		}
	}
	return s, nil
}

func (r *redisStore) Close() error {
	return r.rdb.Close()
}
