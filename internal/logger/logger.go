package logger

import (
	"go.uber.org/zap"

	"github.com/reminder-core/reminder/internal/config"
)

// New creates a zap.Logger based on the environment configuration. If the
// environment is "production", it returns a production logger; otherwise a
// development logger for easier debugging.
func New(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Env == "production" {
		return zap.NewProduction()
	}

	return zap.NewDevelopment()
}
