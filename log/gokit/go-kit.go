// Package gokit bridges a go-kit logger into the github.com/fclairamb/go-log
// Logger interface used throughout cftp.
package gokit

import (
	"fmt"
	"os"

	gklog "github.com/go-kit/kit/log"
	gklevel "github.com/go-kit/kit/log/level"

	golog "github.com/fclairamb/go-log"
)

type gKLogger struct {
	logger gklog.Logger
}

func (logger *gKLogger) checkError(err error) {
	if err != nil {
		fmt.Println("Logging faced this error: ", err)
	}
}

func (logger *gKLogger) log(gklogger gklog.Logger, event string, keyvals ...interface{}) {
	keyvals = append(keyvals, "event", event)
	logger.checkError(gklogger.Log(keyvals...))
}

// Debug logs key-values at debug level.
func (logger *gKLogger) Debug(event string, keyvals ...interface{}) {
	logger.log(gklevel.Debug(logger.logger), event, keyvals...)
}

// Info logs key-values at info level.
func (logger *gKLogger) Info(event string, keyvals ...interface{}) {
	logger.log(gklevel.Info(logger.logger), event, keyvals...)
}

// Warn logs key-values at warn level.
func (logger *gKLogger) Warn(event string, keyvals ...interface{}) {
	logger.log(gklevel.Warn(logger.logger), event, keyvals...)
}

// Error logs key-values at error level.
func (logger *gKLogger) Error(event string, keyvals ...interface{}) {
	logger.log(gklevel.Error(logger.logger), event, keyvals...)
}

// With adds key-values to every subsequent log line.
func (logger *gKLogger) With(keyvals ...interface{}) golog.Logger {
	return NewGKLogger(gklog.With(logger.logger, keyvals...))
}

// NewGKLogger wraps an existing go-kit logger as a golog.Logger.
func NewGKLogger(logger gklog.Logger) golog.Logger {
	return &gKLogger{logger: logger}
}

// NewGKLoggerStdout creates a logfmt go-kit logger writing to stdout, with
// sane defaults for a daemon's main logger.
func NewGKLoggerStdout() golog.Logger {
	return NewGKLogger(gklog.NewLogfmtLogger(gklog.NewSyncWriter(os.Stdout)))
}

var (
	// GKDefaultCaller adds a "caller" property.
	GKDefaultCaller = gklog.Caller(5)
	// GKDefaultTimestampUTC adds a "ts" property.
	GKDefaultTimestampUTC = gklog.DefaultTimestampUTC
)
