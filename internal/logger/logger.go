package logger

import (
	"freshness-orders/internal/config"

	"go.uber.org/zap"
)

func NewZapLog(cfg config.Log) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapcfg = zap.NewDevelopmentConfig()
	}
	zapcfg.Level = lvl

	zl, err := zapcfg.Build()
	if err != nil {
		return nil, err
	}
	return zl, nil
}
