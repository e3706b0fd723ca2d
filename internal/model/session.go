package model

import (
	"time"
)

// SessionState represents the lifecycle state of the messaging session.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateInitializing SessionState = "initializing"
	SessionStateAwaitingScan SessionState = "awaiting_scan"
	SessionStateAuthed       SessionState = "authenticated"
	SessionStateReady        SessionState = "ready"
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateFailed       SessionState = "failed"
)

// Session represents one authenticated connection attempt against the
// messaging driver. Exactly one live Session exists at any instant; it is
// owned by the connection controller.
type Session struct {
	// ID is the logical session identifier. It is constant per deployment,
	// not per attempt, so the driver reuses the same on-disk auth artifact.
	ID string `json:"id"`

	State SessionState `json:"state"`

	CreatedAt        time.Time `json:"createdAt"`
	LastTransitionAt time.Time `json:"lastTransitionAt"`

	// LivenessDeadline is the absolute time after which an unready session
	// is forcibly destroyed. Zero once the session reaches Ready.
	LivenessDeadline time.Time `json:"livenessDeadline,omitempty"`
}

// Ready reports whether the session can serve broadcasts.
func (s *Session) Ready() bool {
	return s.State == SessionStateReady
}

// Terminal reports whether the session requires an operator-issued init
// before it can be used again.
func (s *Session) Terminal() bool {
	switch s.State {
	case SessionStateIdle, SessionStateFailed, SessionStateDisconnected:
		return true
	}
	return false
}

// Destination is a resolved group-like messaging target. Destinations are
// ephemeral: they are fetched fresh per broadcast or list request and never
// cached across session recreations, because identities can change when the
// driver reconnects.
type Destination struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
