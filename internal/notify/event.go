package notify

import (
	"errors"
	"strings"

	"supportbridge/internal/helpdesk"
)

// ErrMissingRecipient marks an event that names no customer. The loop logs
// and skips such events; without a recipient there is nobody to notify.
var ErrMissingRecipient = errors.New("notify: event has no recipient")

// Operation tags carried in the event's Operation field. They select how the
// outgoing message is built.
const (
	OpResolved = "BotMessage-Resolved"
	OpNotify   = "BotMessage-Notify"
	OpChat     = "BotMessage-Chat"
)

// notice is the typed projection of one raw helpdesk event. Only the fields
// the loop acts on survive; everything else in the field bag is dropped.
type notice struct {
	recipient   string // customer display name, registry key (lowercased on lookup)
	operation   string
	summary     string // free text in the Conversation field
	ticketID    string // public id of the related ticket, may be empty
	surveyRecID string // record id used to build the survey link, may be empty
}

func projectEvent(ev helpdesk.Event) (notice, error) {
	f := ev.FieldMap()
	n := notice{
		recipient:   strings.TrimSpace(f["CustomerDisplayName"]),
		operation:   strings.TrimSpace(f["Operation"]),
		summary:     f["Conversation"],
		ticketID:    strings.TrimSpace(f["PublicID"]),
		surveyRecID: strings.TrimSpace(f["RecIDForSurvey"]),
	}
	if n.recipient == "" {
		return notice{}, ErrMissingRecipient
	}
	return n, nil
}
