package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 创建默认的结构化日志器。
//
// 输出 JSON 格式到标准输出，level 不合法时回退到 info。
func NewDefault(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lv,
	})
	return slog.New(handler)
}
