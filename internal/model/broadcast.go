package model

import (
	"strings"
)

const (
	// MinPollChoices and MaxPollChoices bound the number of choices the
	// messaging platform accepts on a single poll.
	MinPollChoices = 2
	MaxPollChoices = 12
)

// Poll is the message payload delivered to each destination.
type Poll struct {
	Title   string   `json:"title"`
	Choices []string `json:"choices"`

	// AllowMultipleAnswers is always false in this system; polls are
	// single-answer only.
	AllowMultipleAnswers bool `json:"allowMultipleAnswers"`
}

// BroadcastRequest describes one poll broadcast to a set of named
// destinations.
type BroadcastRequest struct {
	Title            string   `json:"title"`
	Choices          []string `json:"choices"`
	DestinationNames []string `json:"destinationNames"`
}

// Normalize trims whitespace and drops empty entries from the choice and
// destination lists. It is called by Validate and is idempotent.
func (r *BroadcastRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Choices = trimNonEmpty(r.Choices)
	r.DestinationNames = trimNonEmpty(r.DestinationNames)
}

// Validate normalizes the request and returns a *ValidationError naming the
// first violated constraint, or nil if the request is dispatchable.
func (r *BroadcastRequest) Validate() error {
	r.Normalize()

	if r.Title == "" {
		return &ValidationError{Field: "title", Reason: "title must not be empty"}
	}
	if len(r.Choices) < MinPollChoices || len(r.Choices) > MaxPollChoices {
		return &ValidationError{
			Field:  "choices",
			Reason: "poll needs between 2 and 12 non-empty choices",
		}
	}
	if len(r.DestinationNames) == 0 {
		return &ValidationError{
			Field:  "destinationNames",
			Reason: "at least one destination name is required",
		}
	}
	return nil
}

// Poll builds the poll payload for this request.
func (r *BroadcastRequest) Poll() Poll {
	return Poll{Title: r.Title, Choices: r.Choices}
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SplitDestinationNames parses the operator's comma-separated destination
// list into trimmed, non-empty names.
func SplitDestinationNames(raw string) []string {
	return trimNonEmpty(strings.Split(raw, ","))
}

// DeliveryStatus is the per-destination result of a broadcast.
type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusNotFound  DeliveryStatus = "not_found"
	DeliveryStatusError     DeliveryStatus = "delivery_error"
)

// DeliveryResult records the outcome of one destination in a broadcast.
type DeliveryResult struct {
	Name   string         `json:"name"`
	Status DeliveryStatus `json:"status"`
	Detail string         `json:"detail,omitempty"`
}

// BroadcastOutcome aggregates per-destination results for one request.
// PerDestination preserves the order of the request's destination names.
type BroadcastOutcome struct {
	Delivered      int              `json:"delivered"`
	Failed         int              `json:"failed"`
	PerDestination []DeliveryResult `json:"perDestination"`
}

// Record appends one delivery result and updates the counters.
func (o *BroadcastOutcome) Record(res DeliveryResult) {
	o.PerDestination = append(o.PerDestination, res)
	if res.Status == DeliveryStatusDelivered {
		o.Delivered++
	} else {
		o.Failed++
	}
}
