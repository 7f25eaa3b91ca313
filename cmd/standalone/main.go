package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sessiond/core"
	"sessiond/core/providers"
	"sessiond/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Core     *core.Config               `yaml:",inline"`
	Google   *providers.GoogleConfig   `yaml:"google,omitempty"`
	Facebook *providers.FacebookConfig `yaml:"facebook,omitempty"`

	DB              DBConfig  `yaml:"db"`
	Log             LogConfig `yaml:"log"`
	Port            string    `yaml:"port"`
	JanitorInterval int       `yaml:"janitor_interval"` // seconds
}

type DBConfig struct {
	Type        string `yaml:"type"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type closer interface {
	Close() error
}

func main() {
	configPath := getEnv("CONFIG_PATH", "config.yaml")
	appConfig, err := loadConfigFromYAML(configPath)
	if err != nil {
		// The logger is not configured yet
		zap.NewExample().Fatal("failed to load config", zap.String("path", configPath), zap.Error(err))
	}

	logger := newLogger(appConfig.Log)
	defer logger.Sync()

	if err := appConfig.Core.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := initRepository(ctx, appConfig.DB, logger)
	if c, ok := repo.(closer); ok {
		defer c.Close()
	}

	tokens, err := core.NewTokenService(appConfig.Core.JWT)
	if err != nil {
		logger.Fatal("failed to initialize token service", zap.Error(err))
	}

	providerMap, verifierMap := initProviders(appConfig, logger)
	authService := core.NewAuthService(repo, tokens, appConfig.Core, providerMap, verifierMap, logger)

	server, err := core.NewServer(authService, appConfig.Core, logger)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}

	go core.RunTokenJanitor(ctx, repo, time.Duration(appConfig.JanitorInterval)*time.Second, logger)

	httpServer := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting sessiond server",
			zap.String("addr", httpServer.Addr),
			zap.Strings("providers", getConfiguredProviders(providerMap)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func loadConfigFromYAML(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := AppConfig{Core: &core.Config{}}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, err
	}

	if secret := os.Getenv("TOKEN_SECRET"); secret != "" {
		config.Core.JWT.Secret = secret
	}

	config.Core.ApplyDefaults()
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = 3600
	}

	return &config, nil
}

func newLogger(config LogConfig) *zap.Logger {
	zapConfig := zap.NewProductionConfig()
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	if config.Level != "" {
		level, err := zapcore.ParseLevel(config.Level)
		if err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func initRepository(ctx context.Context, dbConfig DBConfig, logger *zap.Logger) core.Repository {
	switch strings.ToLower(dbConfig.Type) {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(dbConfig.SQLitePath)
		if err != nil {
			logger.Fatal("failed to initialize SQLite repository", zap.Error(err))
		}
		logger.Info("using SQLite database", zap.String("path", dbConfig.SQLitePath))
		return repo

	case "postgres":
		if err := storage.MigratePostgres(ctx, dbConfig.PostgresDSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		repo, err := storage.NewPostgresRepository(ctx, dbConfig.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to initialize Postgres repository", zap.Error(err))
		}
		logger.Info("using Postgres database")
		return repo

	case "memory", "":
		logger.Info("using in-memory repository")
		return storage.NewMemoryRepository()

	default:
		logger.Fatal("unsupported DB type (supported: memory, sqlite, postgres)", zap.String("type", dbConfig.Type))
		return nil
	}
}

func initProviders(cfg *AppConfig, logger *zap.Logger) (map[core.Provider]core.IdentityProvider, map[core.Provider]core.IDTokenVerifier) {
	providerMap := make(map[core.Provider]core.IdentityProvider)
	verifierMap := make(map[core.Provider]core.IDTokenVerifier)

	if cfg.Google != nil {
		providerMap[core.ProviderGoogle] = providers.NewGoogleProvider(cfg.Google)
		verifierMap[core.ProviderGoogle] = providers.NewGoogleIDTokenVerifier(cfg.Google.ClientID)
		logger.Info("Google provider initialized")
	}

	if cfg.Facebook != nil {
		providerMap[core.ProviderFacebook] = providers.NewFacebookProvider(cfg.Facebook)
		logger.Info("Facebook provider initialized")
	}

	return providerMap, verifierMap
}

func getConfiguredProviders(providerMap map[core.Provider]core.IdentityProvider) []string {
	providerNames := make([]string, 0, len(providerMap))
	for provider := range providerMap {
		providerNames = append(providerNames, string(provider))
	}
	return providerNames
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
