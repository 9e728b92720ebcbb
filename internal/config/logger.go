package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

func parseLevel(s string) (level.Option, error) {
	switch strings.ToLower(s) {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger creates a leveled go-kit logger writing to w.
func NewLogger(w io.Writer, cfg LogConfig) (log.Logger, error) {
	allow, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var logger log.Logger
	switch strings.ToLower(cfg.Format) {
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	case "logfmt", "":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	logger = level.NewFilter(logger, allow)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}
