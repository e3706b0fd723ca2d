// Package broadcast implements the best-effort dispatch pipeline: one poll
// payload delivered sequentially to a set of independently resolved
// destinations, with per-destination outcomes.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/poll-broadcaster/backend/internal/model"
)

// DefaultInterSendDelay spaces consecutive sends so the driver's own
// anti-automation heuristics are not tripped. Deliberately not configurable
// by broadcast callers.
const DefaultInterSendDelay = time.Second

// Connection is the dispatcher's view of the connection controller.
type Connection interface {
	IsReady() bool
	FetchDestinations(ctx context.Context) ([]model.Destination, error)
	SendPoll(ctx context.Context, destinationID string, poll model.Poll) error
}

// Publisher receives progress events for the operator.
type Publisher interface {
	Publishf(kind model.LogKind, message string)
}

// Dispatcher delivers polls through a ready connection. Delivery is
// sequential: the underlying driver is a single shared automation context
// and concurrent sends against it are assumed unsafe.
type Dispatcher struct {
	conn    Connection
	events  Publisher
	log     zerolog.Logger
	limiter *rate.Limiter
}

// NewDispatcher creates a dispatcher with the fixed one second inter-send
// spacing.
func NewDispatcher(conn Connection, events Publisher, log zerolog.Logger) *Dispatcher {
	return newDispatcher(conn, events, log, DefaultInterSendDelay)
}

func newDispatcher(conn Connection, events Publisher, log zerolog.Logger, delay time.Duration) *Dispatcher {
	return &Dispatcher{
		conn:    conn,
		events:  events,
		log:     log.With().Str("component", "dispatcher").Logger(),
		limiter: rate.NewLimiter(rate.Every(delay), 1),
	}
}

// Dispatch validates the request, resolves the live destination set and
// delivers the poll to each requested destination in order.
//
// Errors are returned only for the fail-fast phases: not-ready, validation
// and destination fetch. Once those pass the outcome is always returned;
// per-destination failures are data, not errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req *model.BroadcastRequest) (*model.BroadcastOutcome, error) {
	if !d.conn.IsReady() {
		return nil, model.ErrNotReady
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	d.events.Publishf(model.LogKindInfo,
		fmt.Sprintf("Starting poll broadcast to %d destination(s)...", len(req.DestinationNames)))

	destinations, err := d.conn.FetchDestinations(ctx)
	if err != nil {
		return nil, &model.DestinationFetchError{Err: err}
	}

	d.events.Publishf(model.LogKindInfo,
		fmt.Sprintf("Found %d group destination(s) on the account.", len(destinations)))

	byName := make(map[string]model.Destination, len(destinations))
	for _, dest := range destinations {
		byName[dest.Name] = dest
	}

	poll := req.Poll()
	outcome := &model.BroadcastOutcome{}

	for _, name := range req.DestinationNames {
		// Exact, case-sensitive match. Stated contract; fuzzy matching is a
		// known usability gap left unfixed.
		dest, ok := byName[name]
		if !ok {
			d.events.Publishf(model.LogKindError, fmt.Sprintf("Destination not found: %q", name))
			outcome.Record(model.DeliveryResult{
				Name:   name,
				Status: model.DeliveryStatusNotFound,
				Detail: "no destination with that name",
			})
			continue
		}

		// Inter-send throttle. This also makes remaining items fail fast as
		// DeliveryError when the process is shutting down mid-dispatch.
		if err := d.limiter.Wait(ctx); err != nil {
			outcome.Record(model.DeliveryResult{
				Name:   name,
				Status: model.DeliveryStatusError,
				Detail: err.Error(),
			})
			continue
		}

		if err := d.conn.SendPoll(ctx, dest.ID, poll); err != nil {
			d.events.Publishf(model.LogKindError, fmt.Sprintf("Failed to send to %q: %v", name, err))
			outcome.Record(model.DeliveryResult{
				Name:   name,
				Status: model.DeliveryStatusError,
				Detail: deliveryDetail(err),
			})
			continue
		}

		d.events.Publishf(model.LogKindSuccess, fmt.Sprintf("Sent to: %q", name))
		outcome.Record(model.DeliveryResult{Name: name, Status: model.DeliveryStatusDelivered})
	}

	summary := fmt.Sprintf("Broadcast finished. Delivered: %d, failed: %d", outcome.Delivered, outcome.Failed)
	if outcome.Failed > 0 {
		d.events.Publishf(model.LogKindWarning, summary)
	} else {
		d.events.Publishf(model.LogKindInfo, summary)
	}

	d.log.Info().
		Int("delivered", outcome.Delivered).
		Int("failed", outcome.Failed).
		Msg("broadcast dispatched")

	return outcome, nil
}

// deliveryDetail distinguishes a torn-down connection from a driver send
// failure in the per-item detail.
func deliveryDetail(err error) string {
	if errors.Is(err, model.ErrNoDriver) || errors.Is(err, model.ErrNotReady) {
		return "connection closed during broadcast"
	}
	return err.Error()
}
