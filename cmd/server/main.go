package main

import (
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatwave/internal/app"
	"chatwave/internal/config"
	"chatwave/internal/realtime"
	"chatwave/internal/server"
	"chatwave/internal/store"
	"chatwave/internal/util"
	"chatwave/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	statusTTL, err := config.ParseStatusTTL(cfg.StatusTTL)
	if err != nil {
		log.Fatalf("failed to parse status TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var sessions store.SessionStore
	if strings.EqualFold(cfg.SessionStrategy, "redis") {
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	}

	var objects storage.ObjectStore
	if cfg.Minio.Endpoint != "" {
		objects, err = storage.NewMinioStore(
			cfg.Minio.Endpoint,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.Bucket,
			cfg.Minio.UseSSL,
			cfg.Minio.PublicBaseURL,
		)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	}

	hub := realtime.NewHub()
	var publisher realtime.Publisher = hub
	if cfg.AmqpURL != "" {
		relay, err := realtime.NewRelay(cfg.AmqpURL, "", hub)
		if err != nil {
			log.Fatalf("failed to init realtime relay: %v", err)
		}
		defer relay.Close()
		publisher = relay
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		JWTSecret:      cfg.JWTSecret,
		SessionTTL:     sessionTTL,
		StatusTTL:      statusTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		GeminiModel:    cfg.GeminiModel,
		Sessions:       sessions,
		Objects:        objects,
		Publisher:      publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Hub:                      hub,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		AIRateLimitPerMinute:     cfg.AIRateLimitPerMinute,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		TrustedProxyCIDRs:        cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      util.WithRequestLog("chatwave", httpServer.Router()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
