package statusapi

import (
	"bytes"
	"log/slog"
)

// slogWriter feeds combined-log lines from handlers.LoggingHandler into slog
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug("http request", "line", string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("http handler panic", "panic", v)
}
