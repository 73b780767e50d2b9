// Package log wraps a process-wide zap logger.
package log

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	sugared      atomic.Pointer[zap.SugaredLogger]
	baseLogger   atomic.Pointer[zap.Logger]
	fallbackOnce sync.Once
)

// Init initializes the package-level logger
func Init(debug bool) error {
	var zapLogger *zap.Logger
	var err error

	if debug {
		zapLogger, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zapLogger, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %w", err)
	}

	sugared.Store(zapLogger.Sugar())
	baseLogger.Store(zapLogger)
	return nil
}

// fallback installs a production logger once if Init was never called.
func fallback() {
	fallbackOnce.Do(func() {
		zapLogger, err := zap.NewProduction(zap.AddCallerSkip(1))
		if err != nil {
			zapLogger = zap.NewNop()
		}
		sugared.CompareAndSwap(nil, zapLogger.Sugar())
		baseLogger.CompareAndSwap(nil, zapLogger)
	})
}

// Logger returns the base zap logger, creating a production one if Init was never called.
func Logger() *zap.Logger {
	if l := baseLogger.Load(); l != nil {
		return l
	}
	fallback()
	return baseLogger.Load()
}

func sugar() *zap.SugaredLogger {
	if s := sugared.Load(); s != nil {
		return s
	}
	fallback()
	return sugared.Load()
}

// Sync flushes any buffered log entries
func Sync() {
	if s := sugared.Load(); s != nil {
		_ = s.Sync()
	}
}

func Debugf(template string, args ...interface{}) {
	sugar().Debugf(template, args...)
}

func Infof(template string, args ...interface{}) {
	sugar().Infof(template, args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	sugar().Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	sugar().Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugar().Warnw(msg, keysAndValues...)
}

func Errorf(template string, args ...interface{}) {
	sugar().Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	sugar().Errorw(msg, keysAndValues...)
}
