// Package chat defines the channel-agnostic inbound event shape shared by
// transports and the dispatcher.
package chat

import "time"

// Kind discriminates the payload carried by an inbound event.
type Kind string

const (
	// KindText is a plain text message.
	KindText Kind = "text"
	// KindButtonReply is a tap on an interactive button.
	KindButtonReply Kind = "button_reply"
	// KindFormReply is a completed interactive form submission.
	KindFormReply Kind = "form_reply"
)

// Event is one inbound message from a conversational counterpart,
// normalized across transports.
type Event struct {
	ID          string
	Identity    string
	DisplayName string
	Kind        Kind
	Text        string
	ButtonID    string
	FormFields  map[string]string
	ReceivedAt  time.Time
}
