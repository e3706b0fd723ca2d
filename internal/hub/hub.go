// Package hub is the single-subscriber event hub between the internal
// components and the attached operator channel. Producers publish without
// knowing whether an operator is connected; at most one sink is attached at
// a time and a new attach silently supersedes the old one.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/poll-broadcaster/backend/internal/model"
)

// Frame types delivered to the operator sink.
const (
	FrameLog          = "log"
	FrameQR           = "qr"
	FrameStatus       = "status"
	FrameReady        = "ready"
	FrameDisconnected = "disconnected"
	FrameLoggedOut    = "logged-out"
	FrameLoading      = "loading-progress"
)

// Frame is one outbound operator event.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Sink receives outbound frames. Send must not block the publisher; the
// websocket client buffers internally and drops the connection when full.
type Sink interface {
	Send(frame Frame)
}

// Recorder persists log events to the durable operational log.
type Recorder interface {
	Insert(ctx context.Context, ev model.LogEvent) error
}

const persistTimeout = 2 * time.Second

// Hub fans structured events out to the operational log, the service log and
// the currently attached operator sink.
type Hub struct {
	log      zerolog.Logger
	recorder Recorder
	replay   *replayRing

	mu   sync.Mutex
	sink Sink
}

// New creates a hub. recorder may be nil, in which case events are only
// written to the service log.
func New(log zerolog.Logger, recorder Recorder, replaySize int) *Hub {
	return &Hub{
		log:      log.With().Str("component", "hub").Logger(),
		recorder: recorder,
		replay:   newReplayRing(replaySize),
	}
}

// Attach replaces the current sink. The previous sink, if any, is silently
// superseded: the system models a single operator UI.
func (h *Hub) Attach(sink Sink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

// Detach clears the sink, but only if it is still the attached one. A sink
// superseded by a newer attach must not detach its successor.
func (h *Hub) Detach(sink Sink) {
	h.mu.Lock()
	if h.sink == sink {
		h.sink = nil
	}
	h.mu.Unlock()
}

// Publish records a log event durably and forwards it to the attached sink.
// Fire-and-forget: with no sink attached the event is dropped after being
// logged.
func (h *Hub) Publish(ev model.LogEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.logEvent(ev)
	h.persist(ev)
	h.replay.Append(ev)

	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink != nil {
		sink.Send(Frame{Type: FrameLog, Data: ev})
	}
}

// Publishf is a convenience wrapper building the event from a kind and
// message.
func (h *Hub) Publishf(kind model.LogKind, message string) {
	h.Publish(model.NewLogEvent(kind, message))
}

// Emit sends a typed, non-log frame to the attached sink. Dropped when no
// sink is attached; typed frames carry state the operator can re-query, so
// they are not persisted.
func (h *Hub) Emit(frameType string, data any) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	if sink == nil {
		return
	}
	sink.Send(Frame{Type: frameType, Data: data})
}

// Replay returns the most recent log events, oldest first, for a newly
// attached operator.
func (h *Hub) Replay() []model.LogEvent {
	return h.replay.Snapshot()
}

func (h *Hub) logEvent(ev model.LogEvent) {
	switch ev.Kind {
	case model.LogKindError:
		h.log.Error().Msg(ev.Message)
	case model.LogKindWarning:
		h.log.Warn().Msg(ev.Message)
	default:
		h.log.Info().Str("kind", string(ev.Kind)).Msg(ev.Message)
	}
}

func (h *Hub) persist(ev model.LogEvent) {
	if h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.recorder.Insert(ctx, ev); err != nil {
		h.log.Warn().Err(err).Msg("failed to persist log event")
	}
}
