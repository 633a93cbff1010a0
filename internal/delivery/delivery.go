// Package delivery pushes fully-built outbound messages into conversational
// channels. The engine talks to the Sender interface; adapters (connector,
// telegram) implement the actual transports.
package delivery

import "context"

// Account identifies one party in a conversation.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CardAction is one tappable button on a rich card. Value is sent back into
// the conversation as if the user typed it.
type CardAction struct {
	Title string
	Value string
}

// Card is a rich actionable attachment.
type Card struct {
	Text    string
	Actions []CardAction
}

// Message is a fully-populated outbound message: addressing from the stored
// envelope, content from the event.
type Message struct {
	ServiceURL     string
	ChannelID      string
	ConversationID string
	From           Account
	Recipient      Account
	Text           string
	Card           *Card
}

// Sender dispatches one message into its conversation. Failures surface as
// errors to the caller; the engine decides whether to acknowledge.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
