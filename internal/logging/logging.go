// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/casedesk/casedesk-api/internal/config"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Setup applies level and formatter from cfg to the standard logger.
func Setup(cfg config.LoggingConfig) error {
	return setup(log.StandardLogger(), os.Stdout, cfg)
}

func setup(logger *log.Logger, out io.Writer, cfg config.LoggingConfig) error {
	levelName := strings.TrimSpace(cfg.Level)
	if levelName == "" {
		levelName = "info"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logger.SetOutput(out)
	logger.SetLevel(level)
	if cfg.JSON {
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if level >= log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return nil
}

// GinLogger logs one line per request through logrus.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"client":  c.ClientIP(),
			"latency": time.Since(start).String(),
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Info("request")
		default:
			entry.Debug("request")
		}
	}
}
