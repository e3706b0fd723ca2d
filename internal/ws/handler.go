package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/poll-broadcaster/backend/internal/hub"
	"github.com/poll-broadcaster/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Single-operator tool served next to its UI; origin is not checked.
		return true
	},
}

// Controller is the handler's view of the connection controller.
type Controller interface {
	Init() error
	Logout(ctx context.Context) error
	IsReady() bool
	FetchDestinations(ctx context.Context) ([]model.Destination, error)
}

// Dispatcher runs poll broadcasts.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *model.BroadcastRequest) (*model.BroadcastOutcome, error)
}

// Handler upgrades operator connections and routes their commands.
type Handler struct {
	events     *hub.Hub
	controller Controller
	dispatcher Dispatcher
	log        zerolog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(events *hub.Hub, controller Controller, dispatcher Dispatcher, log zerolog.Logger) *Handler {
	return &Handler{
		events:     events,
		controller: controller,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// HandleConnection upgrades the request and serves the operator channel
// until the peer disconnects. The new connection becomes the hub's sink,
// superseding any previous operator.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, h.log)
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("operator connected")

	h.events.Attach(client)

	// Immediate status plus recent history so a reconnecting operator is
	// not staring at an empty console.
	client.Send(hub.Frame{Type: hub.FrameStatus, Data: map[string]any{
		"ready":   h.controller.IsReady(),
		"message": readyMessage(h.controller.IsReady()),
	}})
	for _, ev := range h.events.Replay() {
		client.Send(hub.Frame{Type: hub.FrameLog, Data: ev})
	}

	go h.writePump(client)
	h.readPump(client)
	return nil
}

func readyMessage(ready bool) string {
	if ready {
		return "Connected to messaging service"
	}
	return "Waiting for connection..."
}

// readPump consumes operator commands until the connection drops.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.events.Detach(client)
		client.Close()
		client.Conn().Close()
		h.log.Info().Msg("operator disconnected")
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.log.Warn().Err(err).Msg("discarding malformed command")
			continue
		}

		h.handleCommand(client, cmd)
	}
}

// writePump drains the client's queue onto the wire and keeps the
// connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per websocket message so the UI can JSON.parse each.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand routes one operator command. Long-running work happens off
// the read pump so a broadcast cannot starve ping/pong handling.
func (h *Handler) handleCommand(client *Client, cmd Command) {
	switch cmd.Type {
	case CommandInitClient:
		h.events.Publishf(model.LogKindInfo, "Initializing messaging client...")
		// Init is fire-and-forget; rejections are published as warnings by
		// the controller itself.
		_ = h.controller.Init()

	case CommandLogout:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = h.controller.Logout(ctx)
		}()

	case CommandSendBroadcast:
		go h.runBroadcast(client, cmd)

	case CommandListDestinations:
		go h.listDestinations(client)

	default:
		h.log.Warn().Str("type", string(cmd.Type)).Msg("unknown operator command")
	}
}

func (h *Handler) runBroadcast(client *Client, cmd Command) {
	req := &model.BroadcastRequest{
		Title:            cmd.Title,
		Choices:          cmd.Choices,
		DestinationNames: model.SplitDestinationNames(cmd.DestinationNames),
	}

	outcome, err := h.dispatcher.Dispatch(context.Background(), req)
	if err != nil {
		h.events.Publishf(model.LogKindError, err.Error())
		client.Send(hub.Frame{Type: FrameBroadcastResult, Data: BroadcastResult{
			Success: false,
			Message: err.Error(),
		}})
		return
	}

	client.Send(hub.Frame{Type: FrameBroadcastResult, Data: BroadcastResult{
		Success: true,
		Message: fmt.Sprintf("Broadcast finished. Delivered: %d, failed: %d", outcome.Delivered, outcome.Failed),
		Stats:   &BroadcastStats{Delivered: outcome.Delivered, Failed: outcome.Failed},
	}})
}

func (h *Handler) listDestinations(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dests, err := h.controller.FetchDestinations(ctx)
	if err != nil {
		h.events.Publishf(model.LogKindError, fmt.Sprintf("Failed to fetch destinations: %v", err))
		client.Send(hub.Frame{Type: FrameDestinationsList, Data: map[string]any{
			"success":      false,
			"destinations": []model.Destination{},
		}})
		return
	}

	h.events.Publishf(model.LogKindInfo, fmt.Sprintf("Found %d destination(s).", len(dests)))
	if dests == nil {
		dests = []model.Destination{}
	}
	client.Send(hub.Frame{Type: FrameDestinationsList, Data: map[string]any{
		"success":      true,
		"destinations": dests,
	}})
}
