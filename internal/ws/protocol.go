package ws

// CommandType identifies an inbound operator command.
type CommandType string

const (
	CommandInitClient       CommandType = "init-client"
	CommandLogout           CommandType = "logout"
	CommandSendBroadcast    CommandType = "send-broadcast"
	CommandListDestinations CommandType = "list-destinations"
)

// Command is one inbound operator message. Only send-broadcast carries a
// payload.
type Command struct {
	Type CommandType `json:"type"`

	// send-broadcast payload. DestinationNames is the comma-separated list
	// as typed by the operator.
	Title            string   `json:"title,omitempty"`
	Choices          []string `json:"choices,omitempty"`
	DestinationNames string   `json:"destinationNames,omitempty"`
}

// Direct reply frame types. Lifecycle frames (log, qr, status, ...) are
// defined by the hub package; these two answer a specific command.
const (
	FrameBroadcastResult  = "broadcast-result"
	FrameDestinationsList = "destinations-list"
)

// BroadcastStats summarizes a finished broadcast for the operator.
type BroadcastStats struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// BroadcastResult is the reply to a send-broadcast command.
type BroadcastResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Stats   *BroadcastStats `json:"stats,omitempty"`
}
