package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "supportbridge/pkg/logx"
)

// Connector sends messages through the channel service's REST surface:
// POST {serviceUrl}/v3/conversations/{conversationId}/activities.
//
// It is the default adapter; every channel the dialog layer runs on speaks
// this protocol.
type Connector struct {
	http *http.Client
	log  logx.Logger
}

func NewConnector(timeout time.Duration, log logx.Logger) *Connector {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Connector{
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type activityAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type activityConversation struct {
	ID string `json:"id"`
}

type cardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}

type thumbnailCard struct {
	Text    string       `json:"text"`
	Buttons []cardAction `json:"buttons,omitempty"`
}

type attachment struct {
	ContentType string        `json:"contentType"`
	Content     thumbnailCard `json:"content"`
}

type activity struct {
	Type         string               `json:"type"`
	From         activityAccount      `json:"from"`
	Recipient    activityAccount      `json:"recipient"`
	Conversation activityConversation `json:"conversation"`
	Text         string               `json:"text"`
	Locale       string               `json:"locale"`
	Attachments  []attachment         `json:"attachments,omitempty"`
}

func (c *Connector) Send(ctx context.Context, msg Message) error {
	base := strings.TrimRight(strings.TrimSpace(msg.ServiceURL), "/")
	if base == "" {
		return errors.New("delivery: service url is empty")
	}
	if msg.ConversationID == "" {
		return errors.New("delivery: conversation id is empty")
	}

	act := activity{
		Type:         "message",
		From:         activityAccount{ID: msg.From.ID, Name: msg.From.Name},
		Recipient:    activityAccount{ID: msg.Recipient.ID, Name: msg.Recipient.Name},
		Conversation: activityConversation{ID: msg.ConversationID},
		Text:         msg.Text,
		Locale:       "en-US",
	}
	if msg.Card != nil {
		act.Attachments = []attachment{{
			ContentType: "application/vnd.microsoft.card.thumbnail",
			Content: thumbnailCard{
				Text:    msg.Card.Text,
				Buttons: buttonsFor(msg.Card),
			},
		}}
	}

	payload, err := json.Marshal(act)
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/v3/conversations/%s/activities", base, url.PathEscape(msg.ConversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delivery: unexpected status %s", resp.Status)
	}
	c.log.Debug("activity posted",
		logx.String("channel", msg.ChannelID),
		logx.String("conversation", msg.ConversationID))
	return nil
}

func buttonsFor(card *Card) []cardAction {
	if len(card.Actions) == 0 {
		return nil
	}
	out := make([]cardAction, 0, len(card.Actions))
	for _, a := range card.Actions {
		out = append(out, cardAction{Type: "imBack", Title: a.Title, Value: a.Value})
	}
	return out
}
