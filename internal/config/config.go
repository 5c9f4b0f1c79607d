// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ZSC714725/encodequeue/internal/logger"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Queue     QueueConfig     `yaml:"queue"`
	Progress  ProgressConfig  `yaml:"progress"`
	Work      WorkConfig      `yaml:"work"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Redis     RedisConfig     `yaml:"redis"`
	Admins    []int64         `yaml:"admins"`
	Encoding  EncodingConfig  `yaml:"encoding"`
	Log       logger.Config   `yaml:"log"`
	Validator ValidatorConfig `yaml:"validator"`
}

// ServerConfig 服务配置，bind 为空时不启动 HTTP API
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// FFmpegConfig FFmpeg 配置
type FFmpegConfig struct {
	Path      string `yaml:"path"`
	ProbePath string `yaml:"probe_path"`
	LogLines  int    `yaml:"log_lines"`
}

// QueueConfig 队列配置
type QueueConfig struct {
	Capacity    int `yaml:"capacity"`
	HistorySize int `yaml:"history_size"`
}

// ProgressConfig 进度上报配置
type ProgressConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// WorkConfig 工作目录
type WorkConfig struct {
	Dir       string `yaml:"dir"`
	OutputDir string `yaml:"output_dir"`
}

// TelegramConfig 机器人配置，token 为空时不启动机器人
type TelegramConfig struct {
	Token          string `yaml:"token"`
	APIEndpoint    string `yaml:"api_endpoint"`
	FileEndpoint   string `yaml:"file_endpoint"`
	FreeDailyLimit int    `yaml:"free_daily_limit"`
	MaxFileSizeMB  int64  `yaml:"max_file_size_mb"`
}

// RedisConfig 存储配置，addr 为空时使用内存存储
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EncodingConfig 默认编码参数
type EncodingConfig struct {
	Codec             string `yaml:"codec"`
	Preset            string `yaml:"preset"`
	CRF               int    `yaml:"crf"`
	AudioBitrate      string `yaml:"audio_bitrate"`
	WatermarkText     string `yaml:"watermark_text"`
	WatermarkPosition string `yaml:"watermark_position"`
}

// ValidatorConfig 输入地址白名单/黑名单（正则）
type ValidatorConfig struct {
	Allow []string `yaml:"allow"`
	Block []string `yaml:"block"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Bind: ":8080"},
		FFmpeg:   FFmpegConfig{Path: "ffmpeg", ProbePath: "ffprobe", LogLines: 100},
		Queue:    QueueConfig{Capacity: 100, HistorySize: 100},
		Progress: ProgressConfig{Interval: 3 * time.Second},
		Work:     WorkConfig{Dir: os.TempDir()},
		Encoding: EncodingConfig{
			Codec:             "libx264",
			Preset:            "medium",
			CRF:               28,
			AudioBitrate:      "128k",
			WatermarkPosition: "bottom_right",
		},
		Log: logger.Config{Level: "info", Format: "json"},
	}
}

// Load 从 YAML 文件加载配置，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.fill()
	return cfg, nil
}

// 填充空值
func (c *Config) fill() {
	def := Default()
	if c.FFmpeg.Path == "" {
		c.FFmpeg.Path = def.FFmpeg.Path
	}
	if c.FFmpeg.ProbePath == "" {
		c.FFmpeg.ProbePath = def.FFmpeg.ProbePath
	}
	if c.FFmpeg.LogLines <= 0 {
		c.FFmpeg.LogLines = def.FFmpeg.LogLines
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = def.Queue.Capacity
	}
	if c.Queue.HistorySize <= 0 {
		c.Queue.HistorySize = def.Queue.HistorySize
	}
	if c.Progress.Interval <= 0 {
		c.Progress.Interval = def.Progress.Interval
	}
	if c.Work.Dir == "" {
		c.Work.Dir = def.Work.Dir
	}
	if c.Encoding.Codec == "" {
		c.Encoding.Codec = def.Encoding.Codec
	}
	if c.Encoding.Preset == "" {
		c.Encoding.Preset = def.Encoding.Preset
	}
	if c.Encoding.AudioBitrate == "" {
		c.Encoding.AudioBitrate = def.Encoding.AudioBitrate
	}
	if c.Encoding.WatermarkPosition == "" {
		c.Encoding.WatermarkPosition = def.Encoding.WatermarkPosition
	}
}

// Environment 返回环境变量查询函数：进程环境优先，其次是 dotenv 文件
func Environment(dotenv string) (func(string) string, error) {
	vars, err := godotenv.Read(dotenv)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", dotenv, err)
		}
		vars = map[string]string{}
	}
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return vars[key]
	}, nil
}

// ApplyEnv 用环境变量覆盖敏感或部署相关的配置
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := getenv("TELEGRAM_API_ENDPOINT"); v != "" {
		c.Telegram.APIEndpoint = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("ADMINS"); v != "" {
		admins, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("ADMINS: %w", err)
		}
		c.Admins = admins
	}
	return nil
}

// parseIDs 解析逗号或空白分隔的用户 ID
func parseIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
