package telegram

import (
	"io"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brainrot/tg-llm-rewrite/internal/config"
)

// newZapLogger builds the logger handed to the MTProto client. The
// protocol layer is chatty, so it runs one step quieter than the
// application: its debug output appears only at trace.
func newZapLogger(w io.Writer, level slog.Level, jsonFormat bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), zapLevel(level))
	return zap.New(core).Named("mtproto")
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level <= config.LevelTrace:
		return zapcore.DebugLevel
	case level <= slog.LevelDebug:
		return zapcore.InfoLevel
	case level <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
