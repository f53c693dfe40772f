package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/api"
	"decision-flip/backend/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("DECISION_CONFIG"), "Optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg.ConfigureLogging()

	if dir := filepath.Dir(cfg.DB.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		logrus.Fatalf("history timezone: %v", err)
	}

	server, err := api.NewServer(api.Config{
		DBPath:         cfg.DB.Path,
		SilentDB:       cfg.DB.Silent,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AIConfig: ai.Config{
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			BaseURL:     cfg.AI.BaseURL,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		},
		FallbackModel:   cfg.AI.FallbackModel,
		DisableAI:       cfg.AI.Disabled,
		BiasTermsPath:   cfg.Bias.TermsPath,
		WatchBiasTerms:  cfg.Bias.Watch,
		HistoryLocation: loc,
		OracleRPS:       cfg.Limits.OracleRPS,
		OracleBurst:     cfg.Limits.OracleBurst,
	})
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if cerr := server.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	logrus.Infof("starting decision-flip backend on :%s", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
