package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface passed to every component, so tests can
// substitute a no-op implementation.
type Logger interface {
	Debug(msg string, fields ...zapcore.Field)
	Info(msg string, fields ...zapcore.Field)
	Warn(msg string, fields ...zapcore.Field)
	Error(msg string, fields ...zapcore.Field)
	Fatal(msg string, fields ...zapcore.Field)
}

// ZapLogger implements Logger on a zap.Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewLogger builds a Logger with the development or production zap config.
func NewLogger(isDevelopment bool) (Logger, error) {
	var cfg zap.Config
	if isDevelopment {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &ZapLogger{logger: zapLogger}, nil
}

func (l *ZapLogger) Debug(msg string, fields ...zapcore.Field) { l.logger.Debug(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...zapcore.Field)  { l.logger.Info(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...zapcore.Field)  { l.logger.Warn(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...zapcore.Field) { l.logger.Error(msg, fields...) }
func (l *ZapLogger) Fatal(msg string, fields ...zapcore.Field) { l.logger.Fatal(msg, fields...) }

// NopLogger discards everything. Handy default for tests.
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields ...zapcore.Field) {}
func (NopLogger) Info(msg string, fields ...zapcore.Field)  {}
func (NopLogger) Warn(msg string, fields ...zapcore.Field)  {}
func (NopLogger) Error(msg string, fields ...zapcore.Field) {}
func (NopLogger) Fatal(msg string, fields ...zapcore.Field) {}
