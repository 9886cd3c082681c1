package migrate

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// gooseSlogLogger adapts goose's printf-style logger onto slog so migration
// output lands in the same stream as the rest of the service.
type gooseSlogLogger struct {
	logger *slog.Logger
}

func (l gooseSlogLogger) Printf(format string, v ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Info("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseSlogLogger) Fatalf(format string, v ...any) {
	if l.logger != nil {
		l.logger.Error("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
	}
	os.Exit(1)
}
