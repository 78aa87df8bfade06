package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/cryptsync/internal/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func consoleHandler(level slog.Level) slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

// setupConsoleLogger is what every command gets before it knows the data dir
func setupConsoleLogger(level slog.Level) {
	slog.SetDefault(slog.New(consoleHandler(level)))
}

// setupFileLogger adds a rotating log file next to the console output.
// The returned closer flushes the last partial line.
func setupFileLogger(path string, level slog.Level) io.Closer {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	logInterceptor := utils.NewLogInterceptor(rotator)

	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler(level), fileHandler)))
	return logInterceptor
}
