package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/cluster"
	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/lock"
	"github.com/xaenox/mail-pilot/internal/notify"
	"github.com/xaenox/mail-pilot/internal/pipeline"
	"github.com/xaenox/mail-pilot/internal/reply"
	"github.com/xaenox/mail-pilot/internal/risk"
	"github.com/xaenox/mail-pilot/internal/storage"
	"github.com/xaenox/mail-pilot/pkg/config"
)

const ollamaBaseURL = "http://localhost:11434/v1"

// app holds everything a command needs. close releases it in reverse.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	storage  storage.Storage
	closers  []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			configPath = ""
		}
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if configPath == "" {
		logger.Info("No config file, using defaults and environment")
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	client := newLLMClient(cfg.LLM, logger)
	policy := llm.Policy{Timeouts: cfg.LLM.Timeouts, Pause: cfg.LLM.Pause}

	clusters := cluster.NewEngine(client, policy, cluster.Options{
		MinK:              cfg.Cluster.MinK,
		MaxK:              cfg.Cluster.MaxK,
		MaxFeatures:       cfg.Cluster.MaxFeatures,
		MaxIterations:     cfg.Cluster.MaxIterations,
		SamplesPerCluster: cfg.Cluster.SamplesPerCluster,
	}, logger)
	analyzer := risk.NewAnalyzer(client, policy, logger)
	replies := reply.NewEngine(client, policy, logger)

	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		a.storage = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
		store, err := storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		a.storage = store
	}
	a.closers = append(a.closers, a.storage.Close)

	var locker lock.Locker = lock.NopLocker{}
	if cfg.Redis.URL != "" {
		rl, err := lock.NewRedisLockerFromURL(cfg.Redis.URL, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		if err != nil {
			return fmt.Errorf("init run lock: %w", err)
		}
		logger.Info("Using Redis run lock", zap.String("key", cfg.Redis.LockKey))
		locker = rl
		a.closers = append(a.closers, rl.Close)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		tn, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("init telegram notifier: %w", err)
		}
		notifier = tn
	}

	a.pipeline = pipeline.New(clusters, analyzer, replies, logger,
		pipeline.WithStorage(a.storage),
		pipeline.WithLocker(locker),
		pipeline.WithNotifier(notifier),
		pipeline.WithRiskWorkers(cfg.Pipeline.RiskWorkers),
		pipeline.WithBodyLimit(cfg.Pipeline.BodyLimit),
		pipeline.WithLogLimit(cfg.Pipeline.LogLimit),
	)
	return nil
}

// newLLMClient returns llm.Disabled when no model can be reached, so every
// consumer falls back to its rules or templates.
func newLLMClient(cfg config.LLMConfig, logger *zap.Logger) llm.Client {
	if cfg.Disabled {
		logger.Info("Language model disabled")
		return llm.Disabled{}
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			logger.Warn("No Anthropic API key, language model disabled")
			return llm.Disabled{}
		}
		return llm.NewAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
	case config.ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		return llm.NewOpenAIClient(apiKey, baseURL, cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
	default:
		if cfg.APIKey == "" {
			logger.Warn("No OpenAI API key, language model disabled")
			return llm.Disabled{}
		}
		return llm.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
	}
}
