package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/poll-broadcaster/backend/internal/model"
)

const (
	// defaultRequestTimeout bounds a single command round trip when the
	// caller's context has no earlier deadline.
	defaultRequestTimeout = 30 * time.Second

	// destroyGrace is how long Destroy waits for the sidecar to exit on its
	// own before killing it.
	destroyGrace = 5 * time.Second

	// scanBufferSize is the max accepted line length from the sidecar. QR
	// payloads and chat lists can be large.
	scanBufferSize = 1 << 20

	eventBuffer = 64
)

// BridgeConfig configures the sidecar bridge driver.
type BridgeConfig struct {
	// Command is the sidecar invocation, e.g. ["node", "bridge/index.js"].
	Command []string

	// AuthDir is the directory holding the driver's session artifacts.
	AuthDir string

	// SessionID is the logical session id, constant per deployment.
	SessionID string

	// RequestTimeout overrides defaultRequestTimeout when > 0.
	RequestTimeout time.Duration
}

// Bridge drives the browser-automation layer through a sidecar process,
// speaking a JSON-lines protocol over stdin/stdout: requests carry an id and
// op, replies echo the id, and unsolicited lines carry an "event" field.
type Bridge struct {
	cfg BridgeConfig
	log zerolog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan bridgeLine

	events chan Event

	mu        sync.Mutex
	destroyed bool
	closedCh  chan struct{}
}

// bridgeLine is one decoded line from the sidecar. Reply lines set ID;
// event lines set Event.
type bridgeLine struct {
	ID    string          `json:"id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	Event   EventType `json:"event,omitempty"`
	Payload string    `json:"payload,omitempty"`
	Percent int       `json:"percent,omitempty"`
	Message string    `json:"message,omitempty"`
}

type bridgeRequest struct {
	ID string `json:"id"`
	Op string `json:"op"`

	AuthDir   string `json:"authDir,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	ChatID string      `json:"chatId,omitempty"`
	Poll   *model.Poll `json:"poll,omitempty"`
}

// NewBridge spawns the sidecar process and starts its read loops. The
// returned driver is live but unauthenticated until Initialize is called.
func NewBridge(cfg BridgeConfig, log zerolog.Logger) (*Bridge, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("bridge command is required")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start bridge process: %w", err)
	}

	b := &Bridge{
		cfg:      cfg,
		log:      log.With().Str("component", "bridge").Int("pid", cmd.Process.Pid).Logger(),
		cmd:      cmd,
		stdin:    stdin,
		pending:  make(map[string]chan bridgeLine),
		events:   make(chan Event, eventBuffer),
		closedCh: make(chan struct{}),
	}

	go b.readLoop(stdout)
	go b.stderrLoop(stderr)
	go b.waitLoop()

	return b, nil
}

// Initialize asks the sidecar to start the automation session.
func (b *Bridge) Initialize(ctx context.Context) error {
	_, err := b.roundTrip(ctx, bridgeRequest{
		Op:        "init",
		AuthDir:   b.cfg.AuthDir,
		SessionID: b.cfg.SessionID,
	})
	return err
}

// State returns the driver-reported connection state string.
func (b *Bridge) State(ctx context.Context) (string, error) {
	data, err := b.roundTrip(ctx, bridgeRequest{Op: "get-state"})
	if err != nil {
		return "", err
	}
	var state string
	if err := json.Unmarshal(data, &state); err != nil {
		return "", fmt.Errorf("malformed get-state reply: %w", err)
	}
	return state, nil
}

// Chats returns the live chat list.
func (b *Bridge) Chats(ctx context.Context) ([]Chat, error) {
	data, err := b.roundTrip(ctx, bridgeRequest{Op: "get-chats"})
	if err != nil {
		return nil, err
	}
	var chats []Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("malformed get-chats reply: %w", err)
	}
	return chats, nil
}

// SendPoll delivers a poll to a chat.
func (b *Bridge) SendPoll(ctx context.Context, chatID string, poll model.Poll) error {
	_, err := b.roundTrip(ctx, bridgeRequest{Op: "send-poll", ChatID: chatID, Poll: &poll})
	return err
}

// Logout invalidates the authenticated session.
func (b *Bridge) Logout(ctx context.Context) error {
	_, err := b.roundTrip(ctx, bridgeRequest{Op: "logout"})
	return err
}

// Destroy shuts the sidecar down. The destroy op is best-effort; the process
// is killed if it does not exit within the grace period. Safe to call more
// than once.
func (b *Bridge) Destroy(ctx context.Context) error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return nil
	}
	b.destroyed = true
	b.mu.Unlock()

	// Ask politely first so the sidecar can close the browser profile.
	destroyCtx, cancel := context.WithTimeout(ctx, destroyGrace)
	if _, err := b.roundTrip(destroyCtx, bridgeRequest{Op: "destroy"}); err != nil {
		b.log.Warn().Err(err).Msg("bridge destroy op failed, closing process")
	}
	cancel()

	b.writeMu.Lock()
	_ = b.stdin.Close()
	b.writeMu.Unlock()

	select {
	case <-b.closedCh:
		return nil
	case <-time.After(destroyGrace):
	}

	if b.cmd.Process != nil {
		if err := b.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill bridge process: %w", err)
		}
	}
	<-b.closedCh
	return nil
}

// Events returns the asynchronous event stream.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// roundTrip sends one request and waits for the matching reply.
func (b *Bridge) roundTrip(ctx context.Context, req bridgeRequest) (json.RawMessage, error) {
	timeout := b.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req.ID = uuid.NewString()
	replyCh := make(chan bridgeLine, 1)

	b.pendMu.Lock()
	b.pending[req.ID] = replyCh
	b.pendMu.Unlock()
	defer func() {
		b.pendMu.Lock()
		delete(b.pending, req.ID)
		b.pendMu.Unlock()
	}()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", req.Op, err)
	}
	line = append(line, '\n')

	b.writeMu.Lock()
	_, err = b.stdin.Write(line)
	b.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to write %s request: %w", req.Op, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s request: %w", req.Op, ctx.Err())
	case <-b.closedCh:
		return nil, fmt.Errorf("%s request: bridge process exited", req.Op)
	case reply := <-replyCh:
		if !reply.OK {
			if reply.Error == "" {
				reply.Error = "unspecified bridge error"
			}
			return nil, errors.New(reply.Error)
		}
		return reply.Data, nil
	}
}

// readLoop decodes stdout lines and routes them to pending replies or the
// event stream.
func (b *Bridge) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line bridgeLine
		if err := json.Unmarshal(raw, &line); err != nil {
			b.log.Warn().Err(err).Msg("discarding malformed bridge line")
			continue
		}

		switch {
		case line.ID != "":
			// Send while holding pendMu so waitLoop cannot close the
			// channel mid-send. Reply channels are buffered, one reply
			// per id, so this never blocks.
			b.pendMu.Lock()
			if replyCh, ok := b.pending[line.ID]; ok {
				replyCh <- line
				delete(b.pending, line.ID)
			}
			b.pendMu.Unlock()
		case line.Event != "":
			ev := Event{
				Type:    line.Event,
				Payload: line.Payload,
				Percent: line.Percent,
				Message: line.Message,
			}
			select {
			case b.events <- ev:
			case <-b.closedCh:
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		b.log.Warn().Err(err).Msg("bridge stdout read failed")
	}

	// readLoop is the sole sender on events, so it owns the close.
	close(b.events)
}

// stderrLoop forwards sidecar diagnostics to the service log.
func (b *Bridge) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), scanBufferSize)
	for scanner.Scan() {
		b.log.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

// waitLoop reaps the process, fails all pending requests and closes the
// event stream exactly once.
func (b *Bridge) waitLoop() {
	err := b.cmd.Wait()
	if err != nil {
		b.log.Debug().Err(err).Msg("bridge process exited")
	}

	close(b.closedCh)

	b.pendMu.Lock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.pendMu.Unlock()
}

// NewBridgeFactory returns a Factory that spawns a fresh sidecar per call.
func NewBridgeFactory(cfg BridgeConfig, log zerolog.Logger) Factory {
	return func() (Driver, error) {
		return NewBridge(cfg, log)
	}
}
