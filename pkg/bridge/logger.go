package bridge

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newLogger(config Config) (*zap.Logger, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	level := zap.InfoLevel
	if config.Debug {
		level = zap.DebugLevel
	}
	loggerConfig.Level = zap.NewAtomicLevelAt(level)
	if config.LogFile == "" {
		return loggerConfig.Build()
	}

	err := os.MkdirAll(filepath.Dir(config.LogFile), 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	fileEncoder := zap.NewProductionEncoderConfig()
	fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
	file := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoder),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}),
		level,
	)
	return loggerConfig.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, file)
	}))
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}
