package cmd

import (
	"fmt"

	"github.com/psds-microservice/onboarding-service/internal/config"
	"github.com/psds-microservice/onboarding-service/internal/logger"
	"go.uber.org/zap"
)

const serviceName = "onboarding-service"

// loadEnv reads config (including .env) and builds the logger shared by every command.
func loadEnv() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}
