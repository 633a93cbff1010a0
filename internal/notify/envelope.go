// Package notify runs the event poll loop: it watches the helpdesk backend
// for pending notification events, decides per conversation whether a push
// is welcome right now, and hands messages to the delivery layer.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"supportbridge/internal/delivery"
)

// Envelope is everything needed to reach one user in one conversation later,
// without that user being present. It is captured when the dialog layer
// registers a conversation and stored serialized per (recipient, channel).
type Envelope struct {
	ServiceURL     string           `json:"serviceUrl"`
	ChannelID      string           `json:"channelId"`
	ConversationID string           `json:"conversationId"`
	From           delivery.Account `json:"from"`
	Recipient      delivery.Account `json:"recipient"`
}

func (e Envelope) validate() error {
	switch {
	case strings.TrimSpace(e.ServiceURL) == "":
		return fmt.Errorf("envelope: missing service url")
	case strings.TrimSpace(e.ChannelID) == "":
		return fmt.Errorf("envelope: missing channel id")
	case strings.TrimSpace(e.ConversationID) == "":
		return fmt.Errorf("envelope: missing conversation id")
	}
	return nil
}

// EncodeEnvelope serializes an envelope for the registry.
func EncodeEnvelope(e Envelope) (string, error) {
	if err := e.validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeEnvelope parses a stored envelope. An empty or malformed payload is
// an error; callers skip the record and keep going.
func DecodeEnvelope(raw string) (Envelope, error) {
	if strings.TrimSpace(raw) == "" {
		return Envelope{}, fmt.Errorf("envelope: empty payload")
	}
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
