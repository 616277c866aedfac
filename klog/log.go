// Package klog provides the structured logger used across the
// consumer-group client. The teacher reports failures by pushing errors
// onto an Errors() channel and leaves logging to the caller; most of the
// retrieved Kafka clients instead log directly with a structured logger,
// so this client does the same with go.uber.org/zap rather than
// reinventing a leveled logger on top of the standard library's "log".
package klog

import (
	"go.uber.org/zap"
)

// Logger is the narrow logging surface used by this module's
// components. It is satisfied by *zap.SugaredLogger.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// nopLogger discards everything. It is the default when a caller does
// not supply a Logger.
type nopLogger struct{}

func (nopLogger) Debugw(string, ...interface{}) {}
func (nopLogger) Infow(string, ...interface{})  {}
func (nopLogger) Warnw(string, ...interface{})  {}
func (nopLogger) Errorw(string, ...interface{}) {}

// Nop is a Logger that discards all log entries.
var Nop Logger = nopLogger{}

// NewProduction builds a Logger backed by zap's production configuration
// (JSON output, info level and above).
func NewProduction() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewDevelopment builds a Logger backed by zap's development
// configuration (console output, debug level and above).
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
