// Package session owns the single live connection to the messaging driver
// and drives it through its lifecycle state machine.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/poll-broadcaster/backend/internal/driver"
	"github.com/poll-broadcaster/backend/internal/hub"
	"github.com/poll-broadcaster/backend/internal/model"
	"github.com/poll-broadcaster/backend/internal/store"
)

const (
	// DefaultLivenessTimeout is how long an attempt may stay unready before
	// the driver is forcibly destroyed.
	DefaultLivenessTimeout = 180 * time.Second

	// DefaultRetryBackoff precedes the one automatic retry after a
	// corruption-classified init failure.
	DefaultRetryBackoff = 5 * time.Second

	// DefaultSettleDelay separates destroying the previous driver instance
	// from constructing the next one, so the old browser process releases
	// the shared on-disk session state.
	DefaultSettleDelay = 1500 * time.Millisecond
)

// Config holds configuration for the connection controller.
type Config struct {
	// SessionID is the logical session identifier, constant per deployment.
	SessionID string

	LivenessTimeout time.Duration
	RetryBackoff    time.Duration
	SettleDelay     time.Duration

	PruneThreshold int
	PruneKeep      int
}

func (c *Config) applyDefaults() {
	if c.SessionID == "" {
		c.SessionID = "poll-sender"
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.PruneThreshold <= 0 {
		c.PruneThreshold = store.DefaultPruneThreshold
	}
	if c.PruneKeep <= 0 {
		c.PruneKeep = store.DefaultPruneKeep
	}
}

// Controller owns at most one live driver instance at a time and serializes
// every lifecycle operation against it. Lock order: opMu before mu.
type Controller struct {
	cfg     Config
	factory driver.Factory
	store   *store.Store
	events  *hub.Hub
	log     zerolog.Logger

	// opMu serializes driver operations (sends, fetches, teardown) so a
	// broadcast in flight and a teardown never race the same instance.
	opMu sync.Mutex

	mu            sync.Mutex
	session       model.Session
	drv           driver.Driver
	gen           uint64
	initInFlight  bool
	retried       bool
	livenessTimer *time.Timer
	retryTimer    *time.Timer
}

// NewController creates a controller in the Idle state.
func NewController(cfg Config, factory driver.Factory, st *store.Store, events *hub.Hub, log zerolog.Logger) *Controller {
	cfg.applyDefaults()
	now := time.Now()
	return &Controller{
		cfg:     cfg,
		factory: factory,
		store:   st,
		events:  events,
		log:     log.With().Str("component", "controller").Logger(),
		session: model.Session{
			ID:               cfg.SessionID,
			State:            model.SessionStateIdle,
			CreatedAt:        now,
			LastTransitionAt: now,
		},
	}
}

// CurrentState returns the current session state.
func (c *Controller) CurrentState() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State
}

// Snapshot returns a copy of the current session value.
func (c *Controller) Snapshot() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// IsReady reports whether the session can serve broadcasts.
func (c *Controller) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Ready() && c.drv != nil
}

// Init starts a new session attempt. Fire-and-forget: the attempt proceeds
// asynchronously and progress is reported through the event hub. A second
// Init while one is in flight is rejected, and Init while Ready is a warning
// no-op rather than a reset.
func (c *Controller) Init() error {
	c.mu.Lock()
	if c.session.Ready() && c.drv != nil {
		c.mu.Unlock()
		c.events.Publishf(model.LogKindWarning, "Client is already active.")
		return model.ErrAlreadyReady
	}
	if c.initInFlight {
		c.mu.Unlock()
		c.events.Publishf(model.LogKindWarning, "Initialization already in progress.")
		return model.ErrInitInFlight
	}
	c.initInFlight = true
	c.retried = false
	c.cancelRetryLocked()
	c.mu.Unlock()

	go c.startAttempt()
	return nil
}

// startAttempt runs one full session attempt: teardown of the previous
// instance, artifact hygiene, driver construction and initialization.
func (c *Controller) startAttempt() {
	ctx := context.Background()

	// A new Initializing always first fully tears down any previous driver
	// instance; overlapping instances would corrupt the shared session state.
	if c.teardownDriver(ctx, "Destroying previous client...") {
		time.Sleep(c.cfg.SettleDelay)
	}

	c.store.PruneIfExcess(c.cfg.PruneThreshold, c.cfg.PruneKeep)

	artifact := store.ArtifactPrefix + c.cfg.SessionID
	if c.store.HasCorruptionMarkers(artifact) {
		c.events.Publishf(model.LogKindWarning, "Stored session looks corrupted, removing it before connecting.")
		if err := c.store.Delete(artifact); err != nil {
			c.log.Warn().Err(err).Msg("failed to delete corrupted artifact")
		}
	}

	c.events.Publishf(model.LogKindInfo, "Creating new messaging client...")

	drv, err := c.factory()
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(model.SessionStateFailed)
		c.initInFlight = false
		c.mu.Unlock()
		c.events.Publishf(model.LogKindError, fmt.Sprintf("Failed to create client: %v", err))
		return
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	now := time.Now()
	c.session = model.Session{
		ID:               c.cfg.SessionID,
		State:            model.SessionStateInitializing,
		CreatedAt:        now,
		LastTransitionAt: now,
		LivenessDeadline: now.Add(c.cfg.LivenessTimeout),
	}
	c.drv = drv
	c.livenessTimer = time.AfterFunc(c.cfg.LivenessTimeout, func() {
		c.onLivenessExpired(gen)
	})
	c.mu.Unlock()

	go c.consumeEvents(drv, gen)

	c.events.Publishf(model.LogKindInfo, "Starting messaging client...")
	if err := drv.Initialize(ctx); err != nil {
		c.onInitError(gen, err)
	}
}

// onInitError classifies a driver init failure. Corruption signatures get
// one automatic retry after the backoff, with the offending artifact deleted
// first; everything else stops at Failed for manual retry.
func (c *Controller) onInitError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(model.SessionStateFailed)
	c.initInFlight = false
	c.stopLivenessLocked()
	retry := driver.IsCorruptSessionError(err) && !c.retried
	if retry {
		c.retried = true
	}
	c.mu.Unlock()

	c.events.Publishf(model.LogKindError, fmt.Sprintf("Failed to initialize client: %v", err))
	c.teardownDriver(context.Background(), "")

	if !retry {
		return
	}

	artifact := store.ArtifactPrefix + c.cfg.SessionID
	if delErr := c.store.Delete(artifact); delErr != nil {
		c.events.Publishf(model.LogKindWarning, "Could not delete corrupted session artifact.")
	} else {
		c.events.Publishf(model.LogKindInfo, "Corrupted session deleted.")
	}
	c.events.Publishf(model.LogKindInfo, fmt.Sprintf("Retrying with a fresh session in %s...", c.cfg.RetryBackoff))

	c.mu.Lock()
	c.retryTimer = time.AfterFunc(c.cfg.RetryBackoff, func() {
		c.autoRetry(gen)
	})
	c.mu.Unlock()
}

// autoRetry is the single automatic follow-up attempt after a corruption
// failure. It does not reset the retried flag, so a second corruption
// failure stops at Failed.
func (c *Controller) autoRetry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.initInFlight || c.session.State != model.SessionStateFailed {
		c.mu.Unlock()
		return
	}
	c.initInFlight = true
	c.mu.Unlock()

	c.startAttempt()
}

// consumeEvents is the state-machine loop for one driver instance. Events
// are processed one at a time in arrival order, preserving causal ordering.
func (c *Controller) consumeEvents(drv driver.Driver, gen uint64) {
	for ev := range drv.Events() {
		c.handleEvent(gen, ev)
	}

	// Stream closed: the driver instance is gone. If it was serving, report
	// the disconnect; otherwise the liveness timer or init error path owns
	// the failure.
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	wasReady := c.session.Ready()
	if wasReady {
		c.setStateLocked(model.SessionStateDisconnected)
		c.drv = nil
	}
	c.mu.Unlock()

	if wasReady {
		c.events.Publishf(model.LogKindWarning, "Messaging client disconnected: event stream closed")
		c.events.Emit(hub.FrameDisconnected, map[string]any{"reason": "event stream closed"})
		c.events.Emit(hub.FrameStatus, map[string]any{"ready": false})
	}
}

func (c *Controller) handleEvent(gen uint64, ev driver.Event) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	state := c.session.State
	c.mu.Unlock()

	switch ev.Type {
	case driver.EventQR:
		if state != model.SessionStateInitializing && state != model.SessionStateAwaitingScan {
			return
		}
		c.transition(gen, model.SessionStateAwaitingScan)
		c.events.Publishf(model.LogKindInfo, "QR code generated. Scan it with the messaging app.")
		c.events.Emit(hub.FrameQR, map[string]any{"payload": ev.Payload})

	case driver.EventAuthenticated:
		c.transition(gen, model.SessionStateAuthed)
		c.events.Publishf(model.LogKindSuccess, "Authentication successful.")
		c.events.Publishf(model.LogKindInfo, "Waiting for the client to be fully ready...")

	case driver.EventAuthFailure:
		c.failAttempt(gen, fmt.Sprintf("Authentication failed: %s", ev.Payload))

	case driver.EventReady:
		c.onDriverReady(gen)

	case driver.EventDisconnected:
		c.onDisconnected(gen, ev.Payload)

	case driver.EventError:
		// Runtime errors abort the current operation only; the session is
		// not torn down unless the driver reports disconnection.
		c.events.Publishf(model.LogKindError, fmt.Sprintf("Client error: %s", ev.Payload))

	case driver.EventLoading:
		if ev.Percent%10 == 0 || ev.Percent > 80 {
			c.events.Publishf(model.LogKindInfo, fmt.Sprintf("Loading: %d%% - %s", ev.Percent, ev.Message))
			c.events.Emit(hub.FrameLoading, map[string]any{"percent": ev.Percent, "message": ev.Message})
		}
	}
}

// onDriverReady performs the ready check and completes the attempt.
func (c *Controller) onDriverReady(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.drv == nil {
		c.mu.Unlock()
		return
	}
	drv := c.drv
	c.mu.Unlock()

	state, err := drv.State(context.Background())
	if err != nil {
		c.failAttempt(gen, fmt.Sprintf("Client not ready: %v", err))
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(model.SessionStateReady)
	c.session.LivenessDeadline = time.Time{}
	c.stopLivenessLocked()
	c.initInFlight = false
	c.retried = false
	c.mu.Unlock()

	c.events.Publishf(model.LogKindInfo, fmt.Sprintf("Connection state: %s", state))
	c.events.Publishf(model.LogKindSuccess, "Client ready. You can send polls now.")
	c.events.Emit(hub.FrameReady, map[string]any{})
	c.events.Emit(hub.FrameStatus, map[string]any{"ready": true})
}

func (c *Controller) onDisconnected(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(model.SessionStateDisconnected)
	c.stopLivenessLocked()
	c.initInFlight = false
	c.mu.Unlock()

	c.events.Publishf(model.LogKindWarning, fmt.Sprintf("Messaging client disconnected: %s", reason))
	c.events.Emit(hub.FrameDisconnected, map[string]any{"reason": reason})
	c.events.Emit(hub.FrameStatus, map[string]any{"ready": false})
}

// failAttempt moves the attempt to Failed and destroys the driver.
func (c *Controller) failAttempt(gen uint64, message string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(model.SessionStateFailed)
	c.stopLivenessLocked()
	c.initInFlight = false
	c.mu.Unlock()

	c.events.Publishf(model.LogKindError, message)
	c.teardownDriver(context.Background(), "")
	c.events.Emit(hub.FrameStatus, map[string]any{"ready": false})
}

// onLivenessExpired fires when the attempt has not reached Ready within the
// deadline. The driver is forcibly destroyed exactly once.
func (c *Controller) onLivenessExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.session.Ready() {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(model.SessionStateFailed)
	c.initInFlight = false
	c.mu.Unlock()

	c.events.Publishf(model.LogKindError,
		fmt.Sprintf("Timeout: client did not become ready within %s", c.cfg.LivenessTimeout))
	c.events.Publishf(model.LogKindWarning, "Tip: check that the automation browser is installed and reachable.")
	c.teardownDriver(context.Background(), "")
	c.events.Emit(hub.FrameStatus, map[string]any{"ready": false})
}

// Logout closes the platform session and returns the controller to Idle.
// It cancels any pending auto-retry so a stale timer cannot fire against a
// superseded session.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.stopLivenessLocked()
	drv := c.drv
	c.mu.Unlock()

	var logoutErr error
	if drv != nil {
		c.opMu.Lock()
		logoutErr = drv.Logout(ctx)
		c.opMu.Unlock()
		if logoutErr != nil {
			c.events.Publishf(model.LogKindError, fmt.Sprintf("Failed to log out: %v", logoutErr))
		} else {
			c.events.Publishf(model.LogKindInfo, "Session closed.")
		}
	}

	c.teardownDriver(ctx, "")

	c.mu.Lock()
	c.gen++
	c.setStateLocked(model.SessionStateIdle)
	c.session.LivenessDeadline = time.Time{}
	c.initInFlight = false
	c.retried = false
	c.mu.Unlock()

	c.events.Emit(hub.FrameLoggedOut, map[string]any{})
	c.events.Emit(hub.FrameStatus, map[string]any{"ready": false})
	return logoutErr
}

// Shutdown tears down the live driver on process exit, tolerating failures.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.stopLivenessLocked()
	c.gen++
	c.setStateLocked(model.SessionStateIdle)
	c.initInFlight = false
	c.mu.Unlock()

	c.teardownDriver(ctx, "")
}

// FetchDestinations returns the live group-like destinations. Fails with
// ErrNotReady outside the Ready state; results are never cached.
func (c *Controller) FetchDestinations(ctx context.Context) ([]model.Destination, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	drv, err := c.readyDriver()
	if err != nil {
		return nil, err
	}

	chats, err := drv.Chats(ctx)
	if err != nil {
		return nil, err
	}

	var dests []model.Destination
	for _, chat := range chats {
		if chat.IsGroup {
			dests = append(dests, model.Destination{ID: chat.ID, Name: chat.Name})
		}
	}
	return dests, nil
}

// SendPoll delivers one poll to one destination. The operation lock is held
// for the duration of the send, so a teardown requested mid-broadcast waits
// for the current destination to finish.
func (c *Controller) SendPoll(ctx context.Context, destinationID string, poll model.Poll) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	drv, err := c.readyDriver()
	if err != nil {
		return err
	}
	return drv.SendPoll(ctx, destinationID, poll)
}

func (c *Controller) readyDriver() (driver.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drv == nil {
		return nil, model.ErrNoDriver
	}
	if !c.session.Ready() {
		return nil, model.ErrNotReady
	}
	return c.drv, nil
}

// teardownDriver destroys the current driver instance, if any, under the
// operation lock. Destroy errors are tolerated. Reports whether there was an
// instance to destroy.
func (c *Controller) teardownDriver(ctx context.Context, announce string) bool {
	c.mu.Lock()
	drv := c.drv
	c.drv = nil
	c.mu.Unlock()

	if drv == nil {
		return false
	}
	if announce != "" {
		c.events.Publishf(model.LogKindInfo, announce)
	}

	c.opMu.Lock()
	err := drv.Destroy(ctx)
	c.opMu.Unlock()
	if err != nil {
		c.events.Publishf(model.LogKindWarning, fmt.Sprintf("Error destroying client: %v", err))
	}
	return true
}

func (c *Controller) setStateLocked(state model.SessionState) {
	c.session.State = state
	c.session.LastTransitionAt = time.Now()
	c.log.Debug().Str("state", string(state)).Msg("session state changed")
}

func (c *Controller) transition(gen uint64, state model.SessionState) {
	c.mu.Lock()
	if gen == c.gen {
		c.setStateLocked(state)
	}
	c.mu.Unlock()
}

func (c *Controller) stopLivenessLocked() {
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
		c.livenessTimer = nil
	}
}

func (c *Controller) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}
