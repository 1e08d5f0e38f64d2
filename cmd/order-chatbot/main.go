package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"order-chatbot/internal/auth"
	"order-chatbot/internal/cache"
	"order-chatbot/internal/config"
	"order-chatbot/internal/console"
	"order-chatbot/internal/convo"
	"order-chatbot/internal/dmc"
	"order-chatbot/internal/handlers"
	"order-chatbot/internal/metrics"
	"order-chatbot/internal/nlu"
	"order-chatbot/internal/repo"
	"order-chatbot/internal/wa"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("order-chatbot stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New(cfg.MetricsNamespace)

	var redis *cache.Redis
	if cfg.RedisAddr != "" {
		r, err := cache.NewRedis(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			return err
		}
		defer r.Close()
		redis = r
	}

	repository, err := repo.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repository.Close()

	tokens := auth.NewProvider(auth.Config{
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Timeout:      cfg.OrderAPITimeout,
	}, redis, logger)
	// no channel is served without a working credential
	if _, err := tokens.Token(ctx); err != nil {
		return err
	}

	orderAPI := dmc.New(dmc.Config{
		BaseURL: cfg.OrderAPIBaseURL,
		Timeout: cfg.OrderAPITimeout,
	}, logger, m)

	var recognizer convo.Recognizer = convo.NoopRecognizer{}
	var sentiment convo.SentimentScorer = nlu.NewLexicon()
	if len(cfg.GeminiAPIKeys) > 0 {
		client := nlu.New(nlu.Config{
			APIKeys:  cfg.GeminiAPIKeys,
			Model:    cfg.GeminiModel,
			Timeout:  cfg.GeminiTimeout,
			Cooldown: cfg.GeminiCooldown,
		}, logger, m)
		recognizer, sentiment = client, client
	}

	engine := convo.New(convo.Deps{
		Recognizer: recognizer,
		Sentiment:  sentiment,
		Orders:     orderAPI,
		Releaser:   orderAPI,
		Tokens:     tokens,
		Store:      repository,
		Location:   cfg.DisplayLocation,
		Metrics:    m,
		Logger:     logger,
	})

	var chat handlers.Responder
	if cfg.Channel == config.ChannelHTTP {
		chat = engine
	}
	server := handlers.New(cfg.HTTPListenAddr, chat, repository, m, logger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
	}()

	logger.Info("order-chatbot started", "env", cfg.AppEnv, "channel", cfg.Channel, "addr", cfg.HTTPListenAddr)

	switch cfg.Channel {
	case config.ChannelConsole:
		loop := console.New(engine, os.Stdin, os.Stdout, "supervisor", logger)
		loopErr := make(chan error, 1)
		go func() { loopErr <- loop.Run(ctx) }()
		select {
		case err := <-loopErr:
			return err
		case err := <-serverErr:
			return err
		case <-ctx.Done():
			return nil
		}
	case config.ChannelWhatsApp:
		gateway, err := wa.NewGateway(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			Operators: cfg.WhatsAppOperators,
		}, engine, m, logger)
		if err != nil {
			return err
		}
		defer gateway.Stop()
		gwErr := make(chan error, 1)
		go func() { gwErr <- gateway.Start(ctx) }()
		select {
		case err := <-gwErr:
			return err
		case err := <-serverErr:
			return err
		}
	default:
		select {
		case err := <-serverErr:
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
