package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a zap.Logger for the given level. Debug level selects the
// development config (human-readable console output); everything else uses
// the production JSON config.
func NewLogger(level string) (*zap.Logger, error) {
	var zapConfig zap.Config
	if level == "debug" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	var logLevel zap.AtomicLevel
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	zapConfig.Level = logLevel

	return zapConfig.Build()
}
