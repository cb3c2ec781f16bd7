package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log, _ = zap.NewProduction()

// Init rebuilds the process logger with the given level ("debug", "info", ...).
func Init(level string) error {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	log = l
	return nil
}

func L() *zap.Logger {
	return log
}

// Named returns a child logger tagged with the component name.
func Named(component string) *zap.Logger {
	return log.With(zap.String("component", component))
}

func Sync() {
	_ = log.Sync()
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}

func LogAdminAction(adminID int64, action, params string) {
	log.Info("admin_action", zap.Int64("admin_id", adminID), zap.String("action", action), zap.String("params", params))
}
