// Package kpzap adapts a zap logger to the producer.Logger interface.
package kpzap

import (
	"go.uber.org/zap"

	producer "github.com/zacharyestep/kinesis-shipper"
)

// Logger implements a zap.Logger logger for kinesis-shipper
type Logger struct {
	Logger *zap.Logger
}

// Info logs a message
func (l *Logger) Info(msg string, args ...producer.LogValue) {
	l.Logger.Info(msg, l.valuesToFields(args...)...)
}

// Error logs an error
func (l *Logger) Error(msg string, err error, args ...producer.LogValue) {
	fields := l.valuesToFields(args...)
	fields = append(fields, zap.Error(err))
	l.Logger.Error(msg, fields...)
}

func (l *Logger) valuesToFields(values ...producer.LogValue) []zap.Field {
	fields := make([]zap.Field, 0, len(values)+1)
	for _, v := range values {
		fields = append(fields, zap.Any(v.Name, v.Value))
	}
	return fields
}
