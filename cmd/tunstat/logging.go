package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func setupLogging() error {
	level, err := parseLevel(*logLevel)
	if err != nil {
		return err
	}

	logOutput := os.Stdout
	slog.SetDefault(slog.New(
		tint.NewHandler(colorable.NewColorable(logOutput), &tint.Options{
			AddSource:  true,
			Level:      level,
			TimeFormat: time.DateTime,
			NoColor:    !isatty.IsTerminal(logOutput.Fd()),
		}),
	))
	return nil
}

func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}
