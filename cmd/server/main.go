// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/ZSC714725/encodequeue/internal/api"
	"github.com/ZSC714725/encodequeue/internal/config"
	"github.com/ZSC714725/encodequeue/internal/ffmpeg"
	"github.com/ZSC714725/encodequeue/internal/job"
	"github.com/ZSC714725/encodequeue/internal/logger"
	"github.com/ZSC714725/encodequeue/internal/queue"
	"github.com/ZSC714725/encodequeue/internal/store"
	"github.com/ZSC714725/encodequeue/internal/telegram"
	"github.com/ZSC714725/encodequeue/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envPath := flag.String("env", ".env", "Path to dotenv file")
	bind := flag.String("bind", "", "Bind address (overrides config)")
	ffmpegBin := flag.String("ffmpeg", "", "FFmpeg binary path (overrides config)")
	flag.Parse()

	if err := run(*configPath, *envPath, *bind, *ffmpegBin); err != nil {
		fmt.Fprintf(os.Stderr, "encodequeue: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envPath, bind, ffmpegBin string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	getenv, err := config.Environment(envPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return err
	}

	// 命令行参数优先
	if bind != "" {
		cfg.Server.Bind = bind
	}
	if ffmpegBin != "" {
		cfg.FFmpeg.Path = ffmpegBin
	}

	log := logger.New("encodequeue", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults := store.Defaults{
		Encoder: store.EncoderSettings{
			Codec:        cfg.Encoding.Codec,
			Preset:       cfg.Encoding.Preset,
			CRF:          cfg.Encoding.CRF,
			AudioBitrate: cfg.Encoding.AudioBitrate,
		},
		WatermarkText:     cfg.Encoding.WatermarkText,
		WatermarkPosition: cfg.Encoding.WatermarkPosition,
	}
	var st store.Store
	if cfg.Redis.Addr != "" {
		st, err = store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Defaults: defaults,
		})
		if err != nil {
			return err
		}
		log.Info("using redis store at %s", cfg.Redis.Addr)
	} else {
		st = store.NewMemory(defaults)
		log.Warn("no redis configured, settings and stats are kept in memory")
	}
	defer st.Close()

	validator, err := ffmpeg.NewValidator(cfg.Validator.Allow, cfg.Validator.Block)
	if err != nil {
		return fmt.Errorf("input validator: %w", err)
	}
	ff, err := ffmpeg.New(ffmpeg.Config{
		Binary:         cfg.FFmpeg.Path,
		ProbeBinary:    cfg.FFmpeg.ProbePath,
		MaxLogLines:    cfg.FFmpeg.LogLines,
		ValidatorInput: validator,
		Logger:         log.With("component", "ffmpeg"),
	})
	if err != nil {
		return fmt.Errorf("ffmpeg init: %w", err)
	}
	sk := ff.Skills()
	log.Info("ffmpeg %s", sk.FFmpeg.Version)
	if missing := sk.MissingFilters(); len(missing) > 0 {
		log.Warn("ffmpeg lacks filters %v, some operations will fail", missing)
	}
	if !sk.HasEncoder(cfg.Encoding.Codec) {
		log.Warn("ffmpeg has no %s encoder", cfg.Encoding.Codec)
	}

	q := queue.New(queue.Config{Capacity: cfg.Queue.Capacity})
	history := worker.NewHistory(cfg.Queue.HistorySize)

	outputDir := cfg.Work.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(cfg.Work.Dir, "output")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	local := &worker.LocalFiles{OutputDir: outputDir, Allow: ff.ValidateInput}
	router := &worker.Router{
		Fetchers:   map[job.SourceKind]worker.Fetcher{job.SourceFile: local},
		Deliverers: map[job.SourceKind]worker.Deliverer{job.SourceFile: local},
	}
	statuses := worker.StatusSinks{worker.LogStatus{Logger: log.With("component", "worker")}}
	results := worker.Sinks{history}

	var tg telegram.API
	var notifier *telegram.Notifier
	if cfg.Telegram.Token != "" {
		botAPI, err := telegram.Connect(cfg.Telegram.Token, cfg.Telegram.APIEndpoint)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		log.Info("bot authorized as @%s", botAPI.Self.UserName)
		tg = botAPI

		files := telegram.NewFiles(telegram.FilesConfig{
			API:          tg,
			Token:        cfg.Telegram.Token,
			FileEndpoint: cfg.Telegram.FileEndpoint,
			Settings:     st,
			Logger:       log.With("component", "telegram"),
		})
		router.Fetchers[job.SourceTelegram] = files
		router.Deliverers[job.SourceTelegram] = files

		notifier = telegram.NewNotifier(tg, log.With("component", "notifier"))
		statuses = append(statuses, notifier)
		results = append(results, notifier)
	} else {
		log.Warn("no bot token configured, the bot is disabled")
	}

	w, err := worker.New(worker.Config{
		WorkDir:  filepath.Join(cfg.Work.Dir, "encodequeue"),
		Interval: cfg.Progress.Interval,
		Logger:   log.With("component", "worker"),
	}, worker.Deps{
		Queue:     q,
		Fetcher:   router,
		Encoder:   &worker.FFmpegEncoder{FFmpeg: ff, Settings: st},
		Deliverer: router,
		Status:    statuses,
		Results:   results,
		Recorder:  st,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })

	if tg != nil {
		bot, err := telegram.NewBot(telegram.BotConfig{
			API:            tg,
			Queue:          q,
			Jobs:           w,
			Store:          st,
			Notifier:       notifier,
			Process:        ff.Status,
			Logger:         log.With("component", "bot"),
			Admins:         cfg.Admins,
			FreeDailyLimit: cfg.Telegram.FreeDailyLimit,
			MaxFileSize:    cfg.Telegram.MaxFileSizeMB * 1024 * 1024,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return bot.Run(ctx) })
	}

	if cfg.Server.Bind != "" {
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		handler := api.NewHandler(api.Config{
			Queue:   q,
			Jobs:    w,
			Results: history,
			Engine:  ff,
			Logger:  log.With("component", "api"),
		})
		srv := &http.Server{
			Addr:              cfg.Server.Bind,
			Handler:           api.NewRouter(handler, cfg.Admins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info("operator api listening on %s", cfg.Server.Bind)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	log.Info("encodequeue started")
	err = g.Wait()
	log.Info("encodequeue stopped")
	return err
}
