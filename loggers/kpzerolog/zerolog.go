// Package kpzerolog adapts a zerolog logger to the producer.Logger interface.
package kpzerolog

import (
	"github.com/rs/zerolog"

	producer "github.com/zacharyestep/kinesis-shipper"
)

// Logger implements a zerolog.Logger logger for kinesis-shipper
type Logger struct {
	Logger zerolog.Logger
}

// Info logs a message
func (l *Logger) Info(msg string, args ...producer.LogValue) {
	addValues(l.Logger.Info(), args).Msg(msg)
}

// Error logs an error
func (l *Logger) Error(msg string, err error, args ...producer.LogValue) {
	addValues(l.Logger.Error().Err(err), args).Msg(msg)
}

func addValues(event *zerolog.Event, values []producer.LogValue) *zerolog.Event {
	for _, v := range values {
		event = event.Interface(v.Name, v.Value)
	}
	return event
}
