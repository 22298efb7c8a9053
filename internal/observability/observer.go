// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ObservabilityLevel selects how much the observer emits
type ObservabilityLevel int

const (
	ObservabilityOff     ObservabilityLevel = 0
	ObservabilityMetrics ObservabilityLevel = 1
	ObservabilityDebug   ObservabilityLevel = 2
)

// Observer carries the structured logger used by every engine component
type Observer struct {
	level  ObservabilityLevel
	logger *zap.Logger
}

// NewObserver creates an observer writing to writer.
// Metrics level emits JSON lines at info and above; debug level emits
// human-readable console lines including debug entries.
func NewObserver(level ObservabilityLevel, writer io.Writer) *Observer {
	if level == ObservabilityOff || writer == nil {
		return Nop()
	}

	var encoder zapcore.Encoder
	minLevel := zapcore.InfoLevel
	if level == ObservabilityDebug {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		minLevel = zapcore.DebugLevel
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(writer)), minLevel)
	return &Observer{level: level, logger: zap.New(core)}
}

// NewWithLogger wraps an existing logger
func NewWithLogger(logger *zap.Logger) *Observer {
	if logger == nil {
		return Nop()
	}
	return &Observer{level: ObservabilityMetrics, logger: logger}
}

// Nop returns an observer that discards everything
func Nop() *Observer {
	return &Observer{level: ObservabilityOff, logger: zap.NewNop()}
}

// Logger returns the underlying zap logger
func (o *Observer) Logger() *zap.Logger {
	if o == nil {
		return zap.NewNop()
	}
	return o.logger
}

// Named returns an observer whose entries are tagged with component
func (o *Observer) Named(component string) *Observer {
	if o == nil {
		return Nop()
	}
	return &Observer{level: o.level, logger: o.logger.Named(component)}
}

// Level returns the configured level
func (o *Observer) Level() ObservabilityLevel {
	if o == nil {
		return ObservabilityOff
	}
	return o.level
}

// StartTiming returns a function to complete timing of one operation
func (o *Observer) StartTiming(component, operation, target string) func(success bool, fields ...zap.Field) {
	start := time.Now()
	logger := o.Logger()

	return func(success bool, fields ...zap.Field) {
		all := append([]zap.Field{
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Bool("success", success),
		}, fields...)
		if target != "" {
			all = append(all, zap.String("target", target))
		}

		if success {
			logger.Debug("operation completed", all...)
		} else {
			logger.Warn("operation failed", all...)
		}
	}
}

// Sync flushes buffered entries
func (o *Observer) Sync() {
	if o == nil {
		return
	}
	_ = o.logger.Sync()
}
