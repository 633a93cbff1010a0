package notify

import (
	"fmt"
	"strings"

	"supportbridge/internal/delivery"
)

// buildMessage turns a projected event into the outgoing message for one
// conversation. A nil return means the operation tag is unknown; the caller
// logs and moves on.
func buildMessage(env Envelope, n notice, portalURL string) *delivery.Message {
	msg := &delivery.Message{
		ServiceURL:     env.ServiceURL,
		ChannelID:      env.ChannelID,
		ConversationID: env.ConversationID,
		From:           env.From,
		Recipient:      env.Recipient,
	}

	switch n.operation {
	case OpResolved:
		text := fmt.Sprintf("Hi %s, %s", n.recipient, strings.TrimSpace(n.summary))
		if n.ticketID != "" {
			text = fmt.Sprintf("Hi %s, %s #%s has been resolved.",
				n.recipient, strings.TrimSpace(n.summary), n.ticketID)
		}
		if link := surveyLink(portalURL, n.surveyRecID); link != "" {
			text += "\nPlease rate how we did: " + link
		}
		msg.Text = text

	case OpNotify:
		// Notify greetings address the recipient by the lowercased registry
		// key, not the display-cased name.
		greeted := strings.ToLower(n.recipient)
		if n.ticketID == "" {
			msg.Text = fmt.Sprintf("Hi %s, %s", greeted, strings.TrimSpace(n.summary))
			break
		}
		msg.Card = &delivery.Card{
			Text: fmt.Sprintf("Hi %s, %s", greeted, strings.TrimSpace(n.summary)),
			Actions: []delivery.CardAction{{
				Title: fmt.Sprintf("Status of ticket #%s", n.ticketID),
				Value: "show details " + n.ticketID,
			}},
		}

	case OpChat:
		msg.Text = n.summary

	default:
		return nil
	}
	return msg
}

// surveyLink builds the customer survey URL by appending the survey record id
// to the configured portal endpoint. Either part missing yields no link.
func surveyLink(portalURL, recID string) string {
	portalURL = strings.TrimSpace(portalURL)
	if portalURL == "" || recID == "" {
		return ""
	}
	return portalURL + recID
}
