// Package logging configures the process-wide logrus logger and carries
// request identifiers through gin contexts so every log line emitted
// while serving a request can be correlated with it.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const ginRequestIDKey = "logging.request_id"

// Options controls logger setup.
type Options struct {
	Level      string
	File       string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup configures the global logrus logger. When a file is configured
// output goes to both stderr and a size-rotated log file.
func Setup(opts Options) {
	level, errParse := log.ParseLevel(strings.TrimSpace(opts.Level))
	if errParse != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if strings.TrimSpace(opts.File) == "" {
		log.SetOutput(os.Stderr)
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxOr(opts.MaxSizeMB, 100),
		MaxBackups: maxOr(opts.MaxBackups, 5),
		MaxAge:     maxOr(opts.MaxAgeDays, 30),
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

func maxOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// SetGinRequestID stores the request identifier on the gin context.
func SetGinRequestID(c *gin.Context, requestID string) {
	if c == nil || strings.TrimSpace(requestID) == "" {
		return
	}
	c.Set(ginRequestIDKey, requestID)
}

// GinRequestID returns the request identifier stored on the gin
// context, or the empty string when none was set.
func GinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if value, ok := c.Get(ginRequestIDKey); ok {
		if id, okStr := value.(string); okStr {
			return id
		}
	}
	return ""
}

// WithGinRequest returns a log entry annotated with the request
// identifier of the given gin context when one is present.
func WithGinRequest(c *gin.Context) *log.Entry {
	if id := GinRequestID(c); id != "" {
		return log.WithField("request_id", id)
	}
	return log.NewEntry(log.StandardLogger())
}
