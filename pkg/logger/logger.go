// pkg/logger/logger.go

package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config holds logger configuration. Mode mirrors server.mode: debug
// and test get colored cache-operation output with caller info,
// release gets machine-readable JSON at info level.
type Config struct {
	Mode   string
	Output io.Writer
}

// InitLogger configures the shared logger for the given mode.
func InitLogger(cfg *Config) {
	switch cfg.Mode {
	case "release":
		log.SetLevel(logrus.InfoLevel)
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		log.SetReportCaller(false)
	default: // debug, test
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&CustomFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
		log.SetReportCaller(true)
	}

	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stdout)
	}
}

// GetLogger returns the shared logger for injection into components.
func GetLogger() *logrus.Logger {
	return log
}
