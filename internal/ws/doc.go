// Package ws implements the bidirectional operator channel: a single
// websocket connection carrying state and log frames outward and the three
// operator commands (init, logout, send-broadcast) plus destination listing
// inward.
//
// The system models exactly one operator UI. A new connection supersedes the
// previous one as the event hub's sink; the superseded connection keeps
// draining until its client closes it.
package ws
