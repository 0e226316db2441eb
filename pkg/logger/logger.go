package logger

import (
	"os"

	"go-llmsentry/pkg/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 在 Init 之前是空实现，测试中可直接使用
var Log = zap.NewNop().Sugar()

func Init() error {
	var writeSyncer zapcore.WriteSyncer
	if config.GlobalConfig.Log.Path != "" {
		writeSyncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.GlobalConfig.Log.Path,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		})
	} else {
		writeSyncer = zapcore.Lock(os.Stdout)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		writeSyncer,
		zap.NewAtomicLevelAt(getLogLevel(config.GlobalConfig.Log.Level)),
	)

	logger := zap.New(core, zap.AddCaller())
	Log = logger.Sugar()
	return nil
}

// Sync 退出前刷新缓冲
func Sync() {
	_ = Log.Sync()
}

func getLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
