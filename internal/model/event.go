package model

import (
	"time"
)

// LogKind classifies an operator-visible log event.
type LogKind string

const (
	LogKindInfo    LogKind = "info"
	LogKindSuccess LogKind = "success"
	LogKindWarning LogKind = "warning"
	LogKindError   LogKind = "error"
)

// LogEvent is a structured, human-readable event published to the operator
// channel and the operational log.
type LogEvent struct {
	Kind      LogKind   `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLogEvent stamps a log event with the current time.
func NewLogEvent(kind LogKind, message string) LogEvent {
	return LogEvent{Kind: kind, Message: message, Timestamp: time.Now()}
}
