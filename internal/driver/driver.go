// Package driver defines the contract to the external browser-automation
// layer that maintains the real-time messaging connection, plus the bridge
// implementation that reaches it through a sidecar process.
package driver

import (
	"context"

	"github.com/poll-broadcaster/backend/internal/model"
)

// EventType identifies an asynchronous driver callback.
type EventType string

const (
	EventQR            EventType = "qr"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailure   EventType = "auth_failure"
	EventReady         EventType = "ready"
	EventDisconnected  EventType = "disconnected"
	EventError         EventType = "error"
	EventLoading       EventType = "loading"
)

// Event is an asynchronous notification emitted by the driver while the
// session is alive. Payload carries the QR code for EventQR, the failure or
// error message for EventAuthFailure/EventError, and the disconnect reason
// for EventDisconnected.
type Event struct {
	Type    EventType `json:"event"`
	Payload string    `json:"payload,omitempty"`

	// Loading progress, only set for EventLoading.
	Percent int    `json:"percent,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chat is a raw chat entry as reported by the driver. The controller filters
// to group-like entries before exposing them as destinations.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

// Driver is one live connection to the messaging platform.
//
// Lifecycle: construct via a Factory, call Initialize once, consume Events
// until it closes, and always finish with Destroy. A Driver is not reusable
// after Destroy; the controller constructs a fresh instance per attempt.
type Driver interface {
	// Initialize starts the underlying automation session. It blocks until
	// the session is accepted by the automation layer (not until Ready) and
	// returns the startup error, if any. Progress past this point is
	// reported through Events.
	Initialize(ctx context.Context) (err error)

	// State returns the driver's own connection state string.
	State(ctx context.Context) (string, error)

	// Chats returns the live chat list. Never cached by the driver.
	Chats(ctx context.Context) ([]Chat, error)

	// SendPoll delivers a single-answer poll to the chat with the given id.
	SendPoll(ctx context.Context, chatID string, poll model.Poll) error

	// Logout invalidates the authenticated session on the platform side.
	Logout(ctx context.Context) error

	// Destroy tears the automation session down and releases the process.
	// It is idempotent and must be safe to call at any point.
	Destroy(ctx context.Context) error

	// Events returns the asynchronous event stream. The channel closes when
	// the driver dies or is destroyed.
	Events() <-chan Event
}

// Factory constructs a fresh driver instance for one session attempt.
type Factory func() (Driver, error)
