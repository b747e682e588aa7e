package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init builds the process-wide sugared logger. LOG_LEVEL=debug selects the
// development config; anything else gets production JSON output. Standard
// library logs are redirected into zap so third-party packages that still
// use log.Printf end up in the same stream. Safe to call more than once.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		var logger *zap.Logger
		if strings.ToLower(os.Getenv("LOG_LEVEL")) == "debug" {
			logger, _ = zap.NewDevelopment()
		} else {
			logger, _ = zap.NewProduction()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
	})
	return sugar
}

// Sugar returns the initialized logger, initializing it on first use.
func Sugar() *zap.SugaredLogger {
	return Init()
}
